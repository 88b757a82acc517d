package adapters

import (
	"context"
	"errors"
	"os"
	"slices"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/charmbracelet/huh"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"pkgkeeper/internal/ports"
)

// HuhPromptAdapter asks questions with a terminal select list. Without a
// terminal, or with a zero timeout, the default choice is returned
// immediately.
type HuhPromptAdapter struct {
	interactive func() bool
	ask         func(ctx context.Context, title string, choices []string, answer *string) error
}

func NewHuhPromptAdapter() HuhPromptAdapter {
	return HuhPromptAdapter{
		interactive: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		ask:         askSelect,
	}
}

func askSelect(ctx context.Context, title string, choices []string, answer *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Options(huh.NewOptions(choices...)...).
				Value(answer),
		),
	)
	return form.RunWithContext(ctx)
}

func (a HuhPromptAdapter) Confirm(ctx context.Context, message string, choices []string, defaultChoice string, timeoutSeconds int) (string, error) {
	if len(choices) == 0 {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("a prompt needs at least one choice")
	}
	if defaultChoice != "" && !slices.Contains(choices, defaultChoice) {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("the default choice must be one of the choices")
	}
	if timeoutSeconds == 0 || a.interactive == nil || !a.interactive() {
		log.Ctx(ctx).Debug().Str("prompt", message).Str("answer", defaultChoice).Msg("using default answer")
		return defaultChoice, nil
	}
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}
	answer := defaultChoice
	err := a.ask(ctx, message, choices, &answer)
	switch {
	case err == nil:
		return answer, nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Ctx(ctx).Info().Str("prompt", message).Str("answer", defaultChoice).Msg("prompt timed out, using default answer")
		return defaultChoice, nil
	case errors.Is(err, huh.ErrUserAborted):
		return defaultChoice, nil
	default:
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("prompt failed").
			WithCause(err)
	}
}

var _ ports.PromptPort = HuhPromptAdapter{}
