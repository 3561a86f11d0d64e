package rewriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"none", "hello there", nil},
		{"single", "$duck", []string{"duck"}},
		{"longest first", "$duck says $duckling hi", []string{"duckling", "duck"}},
		{"dedup", "$a $bb $a $bb", []string{"bb", "a"}},
		{"punctuation is part of the token", "nice $pog!", []string{"pog!"}},
		{"adjacent tokens split on $", "$one$two", []string{"one", "two"}},
		{"bare dollar", "costs $ 5", nil},
		{"unicode length", "$ab $日本語", []string{"日本語", "ab"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scan(tt.content))
		})
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name    string
		content string
		repl    map[string]string
		want    string
	}{
		{
			"both resolved",
			"$duck says $duckling hi",
			map[string]string{"duck": "<:duck:1>", "duckling": "<:duckling:2>"},
			"<:duck:1> says <:duckling:2> hi",
		},
		{
			"prefix resolved only",
			"$duck says $duckling hi",
			map[string]string{"duck": "<:duck:1>"},
			"<:duck:1> says $duckling hi",
		},
		{
			"longer resolved only",
			"$duck says $duckling hi",
			map[string]string{"duckling": "<:duckling:2>"},
			"$duck says <:duckling:2> hi",
		},
		{
			"repeated token",
			"$duck $duck",
			map[string]string{"duck": "<:duck:1>"},
			"<:duck:1> <:duck:1>",
		},
		{
			"unresolved stays literal",
			"pay $5 for $duck",
			map[string]string{},
			"pay $5 for $duck",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.content, tt.repl))
		})
	}
}

func TestSingleToken(t *testing.T) {
	name, ok := SingleToken("  $duck ")
	assert.True(t, ok)
	assert.Equal(t, "duck", name)

	for _, content := range []string{"$duck hi", "duck", "$duck$goose", ""} {
		_, ok := SingleToken(content)
		assert.False(t, ok, content)
	}
}
