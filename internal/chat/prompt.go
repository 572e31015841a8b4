package chat

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/wuwenbin0122/turnrelay/internal/models"
)

const identityPrompt = `You are a warm, attentive companion in an ongoing one-to-one conversation.
You listen carefully, remember what the user has shared, and respond like a thoughtful friend.
You are not a therapist or a medical professional and never claim to be one.`

const behaviourPrompt = `Guidelines:
- Reply in the user's language and keep answers conversational, usually a few short paragraphs.
- Reflect the user's feelings before offering suggestions, and ask at most one follow-up question.
- Use the known facts about the user naturally; never recite them back as a list.
- If the user mentions self-harm or danger to others, respond with care and encourage contacting local emergency services or a crisis line.
- Do not invent details about the user that are not in the conversation or the known facts.`

const (
	summaryHeader = "Conversation summary so far:"
	factsHeader   = "Known facts about the user:"
)

// PromptInput is everything the prompt is built from. Nil or empty parts are
// omitted from the prompt.
type PromptInput struct {
	History  []models.Message // chronological
	Summary  *models.RollingSummary
	Context  *models.UserContext
	UserText string
}

// BuildPrompt orders static instructions before per-user facts, facts before
// history, and history before the live user turn.
func BuildPrompt(in PromptInput) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 5+len(in.History))
	messages = append(messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: identityPrompt},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: behaviourPrompt},
	)

	if in.Summary != nil {
		if summary := strings.TrimSpace(in.Summary.Summary); summary != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: summaryHeader + "\n" + summary,
			})
		}
	}

	if facts := FormatRuntimeFacts(in.Context); facts != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: factsHeader + "\n" + facts,
		})
	}

	for _, msg := range in.History {
		content := strings.TrimSpace(msg.Content)
		if content == "" || !msg.Role.Valid() {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: string(msg.Role), Content: content})
	}

	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: in.UserText})

	return messages
}

// FormatRuntimeFacts renders one line per present preference field followed by
// one line per memory fact. It returns "" when there is nothing to render.
func FormatRuntimeFacts(uc *models.UserContext) string {
	if uc == nil {
		return ""
	}

	lines := make([]string, 0, 3+len(uc.Memories))
	if pref := uc.Preference; pref != nil {
		if v := strings.TrimSpace(pref.Nickname); v != "" {
			lines = append(lines, "Nickname: "+v)
		}
		if v := strings.TrimSpace(pref.Pronouns); v != "" {
			lines = append(lines, "Pronouns: "+v)
		}
		if v := strings.TrimSpace(pref.Tone); v != "" {
			lines = append(lines, "Preferred tone: "+v)
		}
	}

	for _, mem := range uc.Memories {
		fact := strings.TrimSpace(mem.Fact)
		if fact == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (confidence: %.2f)", fact, clampConfidence(mem.Confidence)))
	}

	return strings.Join(lines, "\n")
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
