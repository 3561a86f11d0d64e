package emoter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/bot"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/collection"
	"github.com/zentra/nbot/internal/services/directory"
	"github.com/zentra/nbot/internal/services/emotecache"
	"github.com/zentra/nbot/internal/utils"
	"github.com/zentra/nbot/pkg/imaging"
)

const (
	targetDirectory = "directory"
	targetCache     = "cache"

	// keeps replies under the 2000 character message limit
	maxReplyNames = 1500
)

func (m *Module) Commands() []*bot.Command {
	nameOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "name",
		Description: "Emote name, used as $name",
		Required:    true,
	}
	urlOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "url",
		Description: "Direct link to a PNG, JPEG, GIF or WebP image",
		Required:    true,
	}

	return []*bot.Command{
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "emoter",
				Description: "Manage $emotes",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "add", Description: "Add an emote", Options: []*discordgo.ApplicationCommandOption{nameOption, urlOption}},
					{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "remove", Description: "Remove an emote you added", Options: []*discordgo.ApplicationCommandOption{nameOption}},
					{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "edit", Description: "Change the image of an emote you added", Options: []*discordgo.ApplicationCommandOption{nameOption, urlOption}},
					{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "disable", Description: "Stop an emote from being used", Options: []*discordgo.ApplicationCommandOption{nameOption}},
					{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "enable", Description: "Allow a disabled emote again", Options: []*discordgo.ApplicationCommandOption{nameOption}},
					{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "info", Description: "Show cache and directory status"},
					{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "purge", Description: "Delete every cached emote"},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "update",
						Description: "Refresh the emote directory or the cache now",
						Options: []*discordgo.ApplicationCommandOption{{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "target",
							Description: "What to refresh",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: targetDirectory, Value: targetDirectory},
								{Name: targetCache, Value: targetCache},
							},
						}},
					},
				},
			},
			Handler: m.handleEmoter,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "emote",
				Description: "Post an emote, or a random one",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Emote name",
				}},
			},
			Handler: m.handleEmote,
		},
	}
}

func (m *Module) handleEmoter(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := bot.UserID(i)
	sub, opts := bot.Subcommand(i)
	name := bot.StringOption(opts, "name")

	switch sub {
	case "add", "edit", "update", "purge":
		// these touch the network and may outlast the initial response window
		bot.Defer(s, i, true)
		var reply string
		switch sub {
		case "add":
			reply = m.addEmote(ctx, userID, name, bot.StringOption(opts, "url"))
		case "edit":
			reply = m.editEmote(ctx, userID, name, bot.StringOption(opts, "url"))
		case "update":
			reply = m.update(ctx, userID, bot.StringOption(opts, "target"))
		case "purge":
			reply = m.purge(ctx, userID)
		}
		bot.EditResponse(s, i, reply)
	case "remove":
		bot.Respond(s, i, m.removeEmote(ctx, userID, name), true)
	case "disable":
		bot.Respond(s, i, m.disableEmote(ctx, userID, name), true)
	case "enable":
		bot.Respond(s, i, m.enableEmote(ctx, userID, name), true)
	case "info":
		bot.Respond(s, i, m.info(ctx), true)
	default:
		bot.Respond(s, i, "Unknown subcommand.", true)
	}
}

func (m *Module) handleEmote(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	bot.Defer(s, i, false)
	bot.EditResponse(s, i, m.postEmote(ctx, bot.StringOption(i.ApplicationCommandData().Options, "name")))
}

func (m *Module) addEmote(ctx context.Context, userID, name, url string) string {
	ownerID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "Could not identify you."
	}
	if !utils.ValidEmoteName(name) {
		return fmt.Sprintf("Emote names must be 1-%d characters without spaces or `$`.", utils.MaxEmoteNameLength)
	}
	if reply := m.checkImage(ctx, url); reply != "" {
		return reply
	}

	if _, err := m.deps.Directory.Add(ctx, name, url, ownerID); err != nil {
		return m.describe(err, name)
	}
	log.Info().Str("emote", name).Str("userId", userID).Msg("Emote added")
	return fmt.Sprintf("Added `$%s`.", name)
}

func (m *Module) editEmote(ctx context.Context, userID, name, url string) string {
	ownerID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "Could not identify you."
	}
	if reply := m.checkImage(ctx, url); reply != "" {
		return reply
	}

	if err := m.deps.Directory.UpdateURL(ctx, name, url, ownerID, m.deps.IsOwner(userID)); err != nil {
		return m.describe(err, name)
	}
	m.dropFromCache(ctx, name)
	return fmt.Sprintf("Updated `$%s`.", name)
}

func (m *Module) removeEmote(ctx context.Context, userID, name string) string {
	ownerID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "Could not identify you."
	}

	if err := m.deps.Directory.RemoveOwned(ctx, name, ownerID, m.deps.IsOwner(userID)); err != nil {
		return m.describe(err, name)
	}
	m.dropFromCache(ctx, name)
	log.Info().Str("emote", name).Str("userId", userID).Msg("Emote removed")
	return fmt.Sprintf("Removed `$%s`.", name)
}

func (m *Module) disableEmote(ctx context.Context, userID, name string) string {
	if !m.deps.IsOwner(userID) {
		return "Only bot owners can disable emotes."
	}
	disabledBy, _ := strconv.ParseInt(userID, 10, 64)

	if err := m.deps.Directory.Disable(ctx, name, disabledBy); err != nil {
		return m.describe(err, name)
	}
	m.dropFromCache(ctx, name)
	return fmt.Sprintf("Disabled `$%s`.", name)
}

func (m *Module) enableEmote(ctx context.Context, userID, name string) string {
	if !m.deps.IsOwner(userID) {
		return "Only bot owners can enable emotes."
	}
	if err := m.deps.Directory.Enable(ctx, name); err != nil {
		return m.describe(err, name)
	}
	return fmt.Sprintf("Enabled `$%s`.", name)
}

func (m *Module) purge(ctx context.Context, userID string) string {
	if !m.deps.IsOwner(userID) {
		return "Only bot owners can purge the cache."
	}
	removed, err := m.deps.Cache.Purge(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Purge left some emotes behind")
		return fmt.Sprintf("Removed %d emotes; some could not be deleted.", removed)
	}
	return fmt.Sprintf("Removed %d emotes.", removed)
}

func (m *Module) update(ctx context.Context, userID, target string) string {
	if !m.deps.IsOwner(userID) {
		return "Only bot owners can force updates."
	}

	switch target {
	case targetDirectory:
		report, err := m.deps.Collection.Update(ctx)
		if errors.Is(err, collection.ErrAlreadyRunning) {
			return "A directory update is already running."
		}
		var inserted int
		if report != nil {
			for _, c := range report.Catalogs {
				inserted += c.Inserted
			}
		}
		if err != nil {
			return fmt.Sprintf("Directory update finished with errors (%d emotes stored): %v", inserted, err)
		}
		return fmt.Sprintf("Directory updated: %d emotes stored.", inserted)
	case targetCache:
		report, err := m.deps.CacheSync.Update(ctx)
		if errors.Is(err, emotecache.ErrAlreadyRunning) {
			return "A cache update is already running."
		}
		if err != nil {
			return fmt.Sprintf("Cache update failed: %v", err)
		}
		return fmt.Sprintf("Cache updated: %d emotes uploaded, %d failed.", len(report.Uploaded), len(report.Failed))
	}
	return "Unknown update target."
}

// postEmote renders name, or a random emote when name is empty, for a
// reply.
func (m *Module) postEmote(ctx context.Context, name string) string {
	var (
		rec *models.EmoteRecord
		err error
	)
	if name == "" {
		rec, err = m.deps.Directory.Random(ctx)
	} else {
		rec, err = m.deps.Directory.Get(ctx, name)
	}
	if err != nil {
		return m.describe(err, name)
	}

	compound, err := m.deps.Cache.UploadEmote(ctx, rec.Name, rec.ImageURL)
	if err != nil {
		log.Warn().Err(err).Str("emote", rec.Name).Msg("Failed to upload emote for command")
		return fmt.Sprintf("Could not upload `$%s` right now.", rec.Name)
	}
	defer m.deps.Cache.Release(rec.Name)

	return fmt.Sprintf("`$%s` %s", rec.Name, compound.String())
}

func (m *Module) info(ctx context.Context) string {
	st, err := m.Status(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect emoter status")
		return "Could not read the emoter status."
	}

	var sb strings.Builder
	c := st.Cache
	if !c.Loaded {
		sb.WriteString("**Cache** not loaded yet\n")
	} else {
		fmt.Fprintf(&sb, "**Cache** %d/%d static, %d/%d animated, buffer %d\n",
			c.Static.Used, c.Limit, c.Animated.Used, c.Limit, c.Buffer)
	}
	if len(c.Emotes) > 0 {
		sb.WriteString("Cached: " + joinNames(c.Emotes, maxReplyNames) + "\n")
	}

	sources := make([]string, 0, len(st.Directory.BySource))
	for source, n := range st.Directory.BySource {
		sources = append(sources, fmt.Sprintf("%s %d", source, n))
	}
	sort.Strings(sources)
	fmt.Fprintf(&sb, "**Directory** %d emotes (%s)\n", st.Directory.Total, strings.Join(sources, ", "))

	sb.WriteString("**Last directory update** " + describeSync(st.CollectionSync) + "\n")
	sb.WriteString("**Last cache update** " + describeSync(st.CacheSync))
	return sb.String()
}

func describeSync(entry *models.SyncLog) string {
	if entry == nil {
		return "never"
	}
	when := fmt.Sprintf("<t:%d:R>", entry.LastRun.Unix())
	if entry.Success {
		return when + ", succeeded"
	}
	return fmt.Sprintf("%s, failed (%d in a row)", when, entry.Failures)
}

func joinNames(names []string, limit int) string {
	var sb strings.Builder
	for i, n := range names {
		part := n
		if i > 0 {
			part = ", " + n
		}
		if sb.Len()+len(part) > limit {
			fmt.Fprintf(&sb, " and %d more", len(names)-i)
			break
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func (m *Module) checkImage(ctx context.Context, url string) string {
	if err := utils.Validate(struct {
		URL string `validate:"required,url,max=2048"`
	}{url}); err != nil {
		return "That is not a valid URL."
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	data, err := m.deps.Images.Fetch(fetchCtx, url)
	if err != nil {
		return "Could not download an image from that URL."
	}
	if !strings.HasPrefix(imaging.ContentType(data), "image/") {
		return "That URL does not point to a supported image."
	}
	return ""
}

func (m *Module) dropFromCache(ctx context.Context, name string) {
	if err := m.deps.Cache.Remove(ctx, name); err != nil {
		log.Warn().Err(err).Str("emote", name).Msg("Failed to drop emote from cache")
	}
}

func (m *Module) describe(err error, name string) string {
	switch {
	case errors.Is(err, directory.ErrEmoteNotFound):
		if name == "" {
			return "The directory is empty."
		}
		return fmt.Sprintf("There is no emote named `$%s`.", name)
	case errors.Is(err, directory.ErrNameTaken):
		return fmt.Sprintf("`$%s` is already taken.", name)
	case errors.Is(err, directory.ErrNotOwner):
		return "You can only change emotes you added."
	case errors.Is(err, directory.ErrNotUserEmote):
		return "Catalog emotes cannot be changed, only disabled."
	case errors.Is(err, directory.ErrAlreadyDisabled):
		return fmt.Sprintf("`$%s` is already disabled.", name)
	case errors.Is(err, directory.ErrNotDisabled):
		return fmt.Sprintf("`$%s` is not disabled.", name)
	}
	log.Error().Err(err).Str("emote", name).Msg("Emoter command failed")
	return "Something went wrong."
}
