package service

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

// Purpose selects how much history to retrieve and how the prompt is framed.
type Purpose int

const (
	PurposeLive Purpose = iota
	PurposeMimic
)

const notSpecified = "Not Specified"

// HistoryLimit is the number of relevant prior turns retrieved for purpose.
func (p Purpose) HistoryLimit() int {
	if p == PurposeMimic {
		return 5
	}
	return 10
}

func (p Purpose) String() string {
	if p == PurposeMimic {
		return "mimic"
	}
	return "live"
}

// PersonaContext is a request-scoped view assembled for one generation call.
type PersonaContext struct {
	User         *model.User
	Mode         model.Mode
	Away         bool
	History      []model.Exchange
	SystemPrompt string
}

type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
}

type HistoryRetriever interface {
	RetrieveRelevant(ctx context.Context, userID, query string, k int) ([]model.Exchange, error)
}

// ContextBuilder assembles persona context. It never generates text and
// holds no state between calls.
type ContextBuilder struct {
	profiles ProfileReader
	history  HistoryRetriever
}

func NewContextBuilder(profiles ProfileReader, history HistoryRetriever) *ContextBuilder {
	return &ContextBuilder{profiles: profiles, history: history}
}

// Build re-reads the profile, retrieves relevant history restricted to tag
// and renders the system prompt.
func (b *ContextBuilder) Build(ctx context.Context, userID, input string, tag model.ChannelTag, purpose Purpose) (*PersonaContext, error) {
	user, err := b.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates, err := b.history.RetrieveRelevant(ctx, userID, input, purpose.HistoryLimit())
	if err != nil {
		return nil, apperrors.UpstreamFailure("History retrieval", err)
	}

	history := make([]model.Exchange, 0, len(candidates))
	for _, ex := range candidates {
		if ex.ChannelTag == tag {
			history = append(history, ex)
		}
	}

	mode := user.Mode
	if !mode.Valid() {
		mode = model.ModeProfessional
	}

	pc := &PersonaContext{
		User:    user,
		Mode:    mode,
		Away:    user.Away,
		History: history,
	}
	if purpose == PurposeMimic {
		pc.SystemPrompt = renderMimicPrompt(pc)
	} else {
		pc.SystemPrompt = renderLivePrompt(pc)
	}
	return pc, nil
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return notSpecified
	}
	return s
}

func joinOrNotSpecified(items []string) string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		return notSpecified
	}
	return strings.Join(kept, ", ")
}

func writeProfileFacts(sb *strings.Builder, u *model.User) {
	p := u.Profile
	fmt.Fprintf(sb, "- Name: %s\n", orNotSpecified(p.Name))
	fmt.Fprintf(sb, "- Job Title: %s\n", orNotSpecified(p.Professional.JobTitle))
	fmt.Fprintf(sb, "- Company: %s\n", orNotSpecified(p.Professional.Company))
	fmt.Fprintf(sb, "- Skills: %s\n", joinOrNotSpecified(p.Professional.Skills))
	fmt.Fprintf(sb, "- Experience: %s\n", orNotSpecified(p.Professional.Experience))
	fmt.Fprintf(sb, "- Interests: %s\n", joinOrNotSpecified(p.Personal.Interests))
	fmt.Fprintf(sb, "- Tone: %s\n", orNotSpecified(p.CommunicationStyle.Tone))
	fmt.Fprintf(sb, "- Favorite Phrases: %s\n", joinOrNotSpecified(p.CommunicationStyle.FavoritePhrases))
}

// writeHistory renders prior turns as alternating lines. Nothing is written
// for an empty history.
func writeHistory(sb *strings.Builder, history []model.Exchange) {
	if len(history) == 0 {
		return
	}
	sb.WriteString("\nConversation History:\n")
	for _, ex := range history {
		fmt.Fprintf(sb, "User: %s\nAI: %s\n", ex.Input, ex.Response)
	}
}

func modeLabel(m model.Mode) string {
	if m == model.ModeFun {
		return "Fun"
	}
	return "Professional"
}

func renderLivePrompt(pc *PersonaContext) string {
	var sb strings.Builder
	sb.WriteString("You are an AI assistant. Your response style must follow the selected mode.\n")
	if pc.Away {
		sb.WriteString("The user is currently away. Respond on their behalf as a helpful assistant who represents their voice and preferences.\n")
	} else {
		sb.WriteString("The user is present. Act as their second brain: supportive, context-aware and insightful.\n")
	}

	sb.WriteString("\nUser Profile:\n")
	writeProfileFacts(&sb, pc.User)
	fmt.Fprintf(&sb, "\nMode: %s\n", modeLabel(pc.Mode))

	writeHistory(&sb, pc.History)

	sb.WriteString("\nMode-Specific Instructions:\n")
	if pc.Mode == model.ModeFun {
		sb.WriteString("Be playful and engaging. Casual phrases, jokes and emojis are welcome. Do not mention the user's company, job title or professional skills.\n")
	} else {
		sb.WriteString("Keep a professional and concise tone with clear, formal language.\n")
	}
	sb.WriteString("\nRespond to the user's input. Do not use Markdown formatting.\n")
	return sb.String()
}

func renderMimicPrompt(pc *PersonaContext) string {
	name := orNotSpecified(pc.User.Profile.Name)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are standing in for %s, who is away right now. Reply to incoming messages on their behalf, in their voice.\n", name)

	sb.WriteString("\nUser Profile:\n")
	writeProfileFacts(&sb, pc.User)
	fmt.Fprintf(&sb, "\nMode: %s\n", modeLabel(pc.Mode))

	writeHistory(&sb, pc.History)

	sb.WriteString("\nInstructions:\n")
	if pc.Mode == model.ModeFun {
		sb.WriteString("Keep it light and friendly, like a friend would. A few emojis are fine.\n")
	} else {
		sb.WriteString("Stay courteous and professional. Avoid jokes and slang.\n")
	}
	sb.WriteString("Do not promise anything on the user's behalf. Do not use Markdown formatting.\n")
	return sb.String()
}
