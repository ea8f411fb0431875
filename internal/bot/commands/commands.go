package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cloverville/internal/community"
	"github.com/jensholdgaard/cloverville/internal/render"
	"github.com/jensholdgaard/cloverville/internal/source"
)

// maxMessage is Discord's limit on message content length.
const maxMessage = 2000

// Command names.
const (
	Offers        = "offers"
	GreenActions  = "green-actions"
	CommunalTasks = "communal-tasks"
	Points        = "points"
	Member        = "member"
)

// Handlers process Discord interactions.
type Handlers struct {
	src    source.Source
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(src source.Source, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		src:    src,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/cloverville/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        Offers,
			Description: "List the current trade offers",
		},
		{
			Name:        GreenActions,
			Description: "List green actions that earn community points",
		},
		{
			Name:        CommunalTasks,
			Description: "List communal tasks and their deadlines",
		},
		{
			Name:        Points,
			Description: "Show community points and the current goal",
		},
		{
			Name:        Member,
			Description: "Show a member's personal points",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "id",
					Description: "Member ID",
					Required:    true,
				},
			},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	opts := make(map[string]string, len(data.Options))
	for _, o := range data.Options {
		if o.Type == discordgo.ApplicationCommandOptionString {
			opts[o.Name] = o.StringValue()
		}
	}

	respond(s, i, h.Reply(context.Background(), data.Name, opts))
}

// Reply builds the answer to a command.
func (h *Handlers) Reply(ctx context.Context, name string, opts map[string]string) string {
	ctx, span := h.tracer.Start(ctx, "Handlers.Reply",
		trace.WithAttributes(attribute.String("command", name)),
	)
	defer span.End()

	var (
		msg string
		err error
	)
	switch name {
	case Offers:
		msg, err = h.offers(ctx)
	case GreenActions:
		msg, err = h.greenActions(ctx)
	case CommunalTasks:
		msg, err = h.communalTasks(ctx)
	case Points:
		msg, err = h.points(ctx)
	case Member:
		msg, err = h.member(ctx, opts["id"])
	default:
		return "Unknown command"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.ErrorContext(ctx, "command failed",
			slog.String("command", name),
			slog.Any("error", err),
		)
		return "Could not load community data right now. Please try again later."
	}
	return truncate(msg)
}

func (h *Handlers) offers(ctx context.Context) (string, error) {
	dir, err := h.src.Members(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring member directory: %w", err)
	}
	offers, err := h.src.TradeOffers(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring trade offers: %w", err)
	}
	return FormatOffers(dir, offers), nil
}

func (h *Handlers) greenActions(ctx context.Context) (string, error) {
	actions, err := h.src.GreenActions(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring green actions: %w", err)
	}
	return FormatGreenActions(actions), nil
}

func (h *Handlers) communalTasks(ctx context.Context) (string, error) {
	tasks, err := h.src.CommunalTasks(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring communal tasks: %w", err)
	}
	return FormatCommunalTasks(tasks), nil
}

func (h *Handlers) points(ctx context.Context) (string, error) {
	s, err := h.src.Settings(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring settings: %w", err)
	}
	return FormatPoints(s), nil
}

func (h *Handlers) member(ctx context.Context, id string) (string, error) {
	dir, err := h.src.Members(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring member directory: %w", err)
	}
	m, ok := dir[id]
	if !ok {
		return fmt.Sprintf("No member with ID `%s`.", id), nil
	}
	return fmt.Sprintf("**%s**: %d Personal Points, %d tasks completed",
		m.Name, m.PersonalPoints, m.TotalTasksCompleted), nil
}

// FormatOffers lists trade offers with their resolved authors.
func FormatOffers(dir community.Directory, offers []community.TradeOffer) string {
	if len(offers) == 0 {
		return "No offers available."
	}
	var b strings.Builder
	b.WriteString("**Trade Offers:**\n")
	for idx, o := range offers {
		fmt.Fprintf(&b, "%d. **%s** - %s (offered by %s, cost: %s Personal Points)\n",
			idx+1, o.Title, o.Description, dir.AuthorName(o.PerformerID), render.Number(o.PointValue))
	}
	return b.String()
}

// FormatGreenActions lists green actions.
func FormatGreenActions(actions []community.GreenAction) string {
	if len(actions) == 0 {
		return "No actions yet."
	}
	var b strings.Builder
	b.WriteString("**Green Actions:**\n")
	for idx, a := range actions {
		fmt.Fprintf(&b, "%d. **%s** - %s (+%s Community Points)\n",
			idx+1, a.Title, a.Description, render.Number(a.PointValue))
	}
	return b.String()
}

// FormatCommunalTasks lists communal tasks.
func FormatCommunalTasks(tasks []community.CommunalTask) string {
	if len(tasks) == 0 {
		return "No tasks available."
	}
	var b strings.Builder
	b.WriteString("**Communal Tasks:**\n")
	for idx, t := range tasks {
		fmt.Fprintf(&b, "%d. **%s** - %s (deadline: %s, earn %s Personal Points)\n",
			idx+1, t.Title, t.Description, t.Deadline, render.Number(t.PointValue))
	}
	return b.String()
}

// FormatPoints shows the community points display.
func FormatPoints(s community.Settings) string {
	return fmt.Sprintf("**Community Points:** %s / %s\n**Goal:** %s",
		render.Number(s.CommunityPoints), render.Number(s.TargetPoints), s.CommunityGoal)
}

// truncate cuts msg at a line boundary, or at a rune boundary when no line
// fits, to fit in one Discord message.
func truncate(msg string) string {
	if len(msg) <= maxMessage {
		return msg
	}
	const more = "\n…"
	cut := strings.LastIndex(msg[:maxMessage-len(more)], "\n")
	if cut < 0 {
		cut = maxMessage - len(more)
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
	}
	return msg[:cut] + more
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}
