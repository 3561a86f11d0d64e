package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeModule struct {
	name     string
	commands []*Command
	interval time.Duration
	panics   bool

	mu       sync.Mutex
	messages []string
	ticks    atomic.Int32
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Commands() []*Command { return f.commands }

func (f *fakeModule) TickInterval() time.Duration { return f.interval }

func (f *fakeModule) OnMessage(_ context.Context, m *discordgo.Message) {
	if f.panics {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m.ID)
}

func (f *fakeModule) OnTick(context.Context) {
	f.ticks.Add(1)
}

func command(name string, h CommandHandler) *Command {
	return &Command{Definition: &discordgo.ApplicationCommand{Name: name}, Handler: h}
}

func interaction(name string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{Name: name},
	}}
}

func TestNewRejectsDuplicateCommands(t *testing.T) {
	noop := func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) {}
	a := &fakeModule{name: "a", commands: []*Command{command("emote", noop)}}
	b := &fakeModule{name: "b", commands: []*Command{command("emote", noop)}}

	_, err := New(nil, "", a, b)
	assert.Error(t, err)
}

func TestDispatchMessageSurvivesPanics(t *testing.T) {
	bad := &fakeModule{name: "bad", panics: true}
	good := &fakeModule{name: "good"}

	b, err := New(nil, "", bad, good)
	require.NoError(t, err)
	defer b.Stop()

	b.dispatchMessage(&discordgo.Message{ID: "m1"})
	assert.Equal(t, []string{"m1"}, good.messages)
}

func TestDispatchInteractionRoutesByName(t *testing.T) {
	var called []string
	m := &fakeModule{name: "emoter", commands: []*Command{
		command("emoter", func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) {
			called = append(called, "emoter")
		}),
		command("emote", func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) {
			panic("handler bug")
		}),
	}}

	b, err := New(nil, "", m)
	require.NoError(t, err)
	defer b.Stop()

	b.dispatchInteraction(nil, interaction("emoter"))
	b.dispatchInteraction(nil, interaction("emote"))
	b.dispatchInteraction(nil, interaction("unknown"))

	assert.Equal(t, []string{"emoter"}, called)
	assert.Len(t, b.commands, 2)
}

func TestTickLoopRunsUntilStopped(t *testing.T) {
	ticking := &fakeModule{name: "ticking", interval: 5 * time.Millisecond}
	idle := &fakeModule{name: "idle"}

	b, err := New(nil, "", ticking, idle)
	require.NoError(t, err)

	b.startTicks()
	assert.Eventually(t, func() bool { return ticking.ticks.Load() >= 3 }, time.Second, time.Millisecond)
	b.Stop()

	n := ticking.ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, ticking.ticks.Load())
	assert.Zero(t, idle.ticks.Load())
}

func TestSubcommandAndOptions(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:   discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "emoter",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "add",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "name", Type: discordgo.ApplicationCommandOptionString, Value: "pog"},
				},
			}},
		},
	}}

	sub, opts := Subcommand(i)
	assert.Equal(t, "add", sub)
	assert.Equal(t, "pog", StringOption(opts, "name"))
	assert.Empty(t, StringOption(opts, "url"))
	assert.Equal(t, "u1", UserID(i))
}
