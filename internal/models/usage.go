package models

// UsageCount is how many rewritten messages referenced an emote name.
type UsageCount struct {
	Name string `json:"name"`
	Uses int64  `json:"uses"`
}
