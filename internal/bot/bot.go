// Package bot runs feature modules on a discordgo session: it routes
// gateway messages and slash commands to them and drives their periodic
// work.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

const handlerTimeout = 2 * time.Minute

// CommandHandler answers one slash command interaction.
type CommandHandler func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate)

type Command struct {
	Definition *discordgo.ApplicationCommand
	Handler    CommandHandler
}

// Module is a feature of the bot.
type Module interface {
	Name() string
	Commands() []*Command
	OnMessage(ctx context.Context, m *discordgo.Message)
	// OnTick runs once at startup and then every TickInterval. A zero
	// interval disables ticks.
	OnTick(ctx context.Context)
	TickInterval() time.Duration
}

type Bot struct {
	session        *discordgo.Session
	commandGuildID string
	modules        []Module
	commands       []*discordgo.ApplicationCommand
	handlers       map[string]CommandHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a bot from modules. Slash commands are registered in
// commandGuildID, or globally when it is empty.
func New(session *discordgo.Session, commandGuildID string, modules ...Module) (*Bot, error) {
	b := &Bot{
		session:        session,
		commandGuildID: commandGuildID,
		modules:        modules,
		handlers:       make(map[string]CommandHandler),
	}

	for _, m := range modules {
		for _, cmd := range m.Commands() {
			name := cmd.Definition.Name
			if _, exists := b.handlers[name]; exists {
				return nil, fmt.Errorf("command %q registered twice (module %s)", name, m.Name())
			}
			b.handlers[name] = cmd.Handler
			b.commands = append(b.commands, cmd.Definition)
		}
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// Start opens the gateway connection and starts the tick loops.
func (b *Bot) Start() error {
	b.session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open gateway session: %w", err)
	}

	b.startTicks()
	return nil
}

// Stop cancels running work, waits for the tick loops and closes the session.
func (b *Bot) Stop() {
	b.cancel()
	b.wg.Wait()
	if b.session != nil {
		if err := b.session.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing gateway session")
		}
	}
}

func (b *Bot) startTicks() {
	for _, m := range b.modules {
		interval := m.TickInterval()
		if interval <= 0 {
			continue
		}
		b.wg.Add(1)
		go b.tickLoop(m, interval)
	}
}

func (b *Bot) tickLoop(m Module, interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		b.safeCall(m.Name()+".tick", func() { m.OnTick(b.ctx) })

		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().
		Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("Connected to gateway")

	if err := b.registerCommands(s, r.User.ID); err != nil {
		log.Error().Err(err).Msg("Failed to register slash commands")
	}
}

func (b *Bot) registerCommands(s *discordgo.Session, appID string) error {
	created, err := s.ApplicationCommandBulkOverwrite(appID, b.commandGuildID, b.commands)
	if err != nil {
		return err
	}
	log.Info().
		Int("commands", len(created)).
		Str("guildId", b.commandGuildID).
		Msg("Registered slash commands")
	return nil
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	b.dispatchMessage(m.Message)
}

func (b *Bot) dispatchMessage(msg *discordgo.Message) {
	ctx, cancel := context.WithTimeout(b.ctx, handlerTimeout)
	defer cancel()

	for _, m := range b.modules {
		b.safeCall(m.Name()+".message", func() { m.OnMessage(ctx, msg) })
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.dispatchInteraction(s, i)
}

func (b *Bot) dispatchInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	handler, ok := b.handlers[name]
	if !ok {
		log.Warn().Str("command", name).Msg("Unknown command")
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, handlerTimeout)
	defer cancel()

	b.safeCall("command."+name, func() { handler(ctx, s, i) })
}

// safeCall runs fn and reports a panic instead of crashing the process.
func (b *Bot) safeCall(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("op", op).
				Interface("panic", r).
				Msg("Recovered from panic in bot handler")

			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetTag("op", op)
			hub.Recover(r)
		}
	}()
	fn()
}
