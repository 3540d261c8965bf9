package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/llm"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

type ProfileStore interface {
	ProfileReader
	IncrementCounter(ctx context.Context, userID string, counter model.Counter) error
}

type PersonaBuilder interface {
	Build(ctx context.Context, userID, input string, tag model.ChannelTag, purpose Purpose) (*PersonaContext, error)
}

type HistoryAppender interface {
	Append(ctx context.Context, userID, input, response string, tag model.ChannelTag) (*model.ChatTurn, error)
}

// EmitFunc delivers one streamed chunk to the caller. A non-nil error aborts
// the stream without persisting anything.
type EmitFunc func(chunk string) error

// Orchestrator runs generation for live chat, autonomous mimic replies and
// email drafts.
type Orchestrator struct {
	profiles         ProfileStore
	builder          PersonaBuilder
	history          HistoryAppender
	generator        llm.Generator
	finalizerTimeout time.Duration
}

func NewOrchestrator(profiles ProfileStore, builder PersonaBuilder, history HistoryAppender, generator llm.Generator) *Orchestrator {
	return &Orchestrator{
		profiles:         profiles,
		builder:          builder,
		history:          history,
		generator:        generator,
		finalizerTimeout: config.FinalizerTimeout,
	}
}

func checkQuota(user *model.User, feature string, limit, used int) error {
	if limit == model.Unlimited || used < limit {
		return nil
	}
	log.Info().
		Str("userId", user.UserID).
		Str("plan", string(user.Plan)).
		Str("feature", feature).
		Int("used", used).
		Msg("quota rejected")
	return apperrors.QuotaExceeded(feature, string(user.Plan))
}

// StreamChat streams a live reply through emit. The turn is persisted and the
// chat counter incremented once, only after the generator reports the end of
// the stream. Emit failures and cancellation leave no trace in storage.
func (o *Orchestrator) StreamChat(ctx context.Context, userID, input string, emit EmitFunc) (*model.ChatTurn, error) {
	user, err := o.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := checkQuota(user, "chat", user.Plan.ChatQuota(), user.ChatsSent); err != nil {
		return nil, err
	}

	pc, err := o.builder.Build(ctx, userID, input, model.ChannelGeneral, PurposeLive)
	if err != nil {
		return nil, err
	}

	stream, err := o.generator.GenerateStream(ctx, llm.Request{System: pc.SystemPrompt, Input: input})
	if err != nil {
		return nil, apperrors.UpstreamFailure("Generation", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperrors.UpstreamFailure("Generation", err)
		}
		if err := emit(chunk); err != nil {
			log.Info().Err(err).Str("userId", userID).Msg("chat stream aborted by client")
			return nil, fmt.Errorf("emit chunk: %w", err)
		}
		full.WriteString(chunk)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return o.finalizeChat(ctx, userID, input, full.String()), nil
}

// finalizeChat runs detached from the request so a disconnect that lands after
// end-of-stream cannot interrupt the write.
func (o *Orchestrator) finalizeChat(ctx context.Context, userID, input, response string) *model.ChatTurn {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.finalizerTimeout)
	defer cancel()

	turn, err := o.history.Append(fctx, userID, input, response, model.ChannelGeneral)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to persist chat turn")
	}
	if err := o.profiles.IncrementCounter(fctx, userID, model.CounterChats); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to count chat")
	}
	return turn
}

// Mimic generates one reply on behalf of an away user. Presence is read at
// call time; a user who has returned gets NotAway and nothing is written.
func (o *Orchestrator) Mimic(ctx context.Context, userID, message string, tag model.ChannelTag) (string, error) {
	if !tag.Valid() {
		return "", apperrors.InvalidInput("channelTag", fmt.Sprintf("unknown channel %q", tag))
	}

	pc, err := o.builder.Build(ctx, userID, message, tag, PurposeMimic)
	if err != nil {
		return "", err
	}
	if !pc.Away {
		return "", apperrors.NotAway()
	}

	reply, err := o.generator.Generate(ctx, llm.Request{System: pc.SystemPrompt, Input: message})
	if err != nil {
		return "", apperrors.UpstreamFailure("Generation", err)
	}

	if _, err := o.history.Append(ctx, userID, message, reply, tag); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to persist mimic turn")
	}

	log.Info().
		Str("userId", userID).
		Str("channelTag", string(tag)).
		Int("replyLength", len(reply)).
		Msg("mimic reply generated")
	return reply, nil
}

type DraftEmailParams struct {
	Recipient string
	Subject   string
	Context   string
}

// DraftEmail writes an email body in the user's name under the email quota.
func (o *Orchestrator) DraftEmail(ctx context.Context, userID string, params DraftEmailParams) (string, error) {
	user, err := o.profiles.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := checkQuota(user, "email", user.Plan.EmailQuota(), user.EmailsSent); err != nil {
		return "", err
	}

	var system strings.Builder
	system.WriteString("You draft professional emails. Write only the email body: no subject line, no headers.\n")
	fmt.Fprintf(&system, "Recipient: %s\n", orNotSpecified(params.Recipient))
	fmt.Fprintf(&system, "Subject: %s\n", orNotSpecified(params.Subject))
	fmt.Fprintf(&system, "Use a formal tone and sign off with the sender's name: %s.\n", user.DisplayName())

	body, err := o.generator.Generate(ctx, llm.Request{System: system.String(), Input: params.Context})
	if err != nil {
		return "", apperrors.UpstreamFailure("Generation", err)
	}

	if err := o.profiles.IncrementCounter(ctx, userID, model.CounterEmails); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to count email draft")
	}

	log.Info().Str("userId", userID).Msg("email drafted")
	return body, nil
}
