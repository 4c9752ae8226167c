package speech

import (
	"context"
	"fmt"
	"os/exec"
)

// Synthesizer turns one utterance of text into audio, blocking until the
// utterance has finished playing or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// NullSynthesizer discards utterances immediately. Used when no speech
// command is configured.
type NullSynthesizer struct{}

// Speak implements Synthesizer.
func (NullSynthesizer) Speak(ctx context.Context, text string) error {
	return ctx.Err()
}

// CommandSynthesizer shells out to an external text-to-speech command
// (espeak, say, festival) with the utterance text appended as the final
// argument. Cancelling ctx kills the process mid-utterance.
type CommandSynthesizer struct {
	command string
	args    []string
}

// NewCommandSynthesizer creates a CommandSynthesizer for the given command
// and fixed leading arguments.
func NewCommandSynthesizer(command string, args ...string) *CommandSynthesizer {
	if command == "" {
		panic("CommandSynthesizer: command cannot be empty")
	}
	return &CommandSynthesizer{command: command, args: args}
}

// Speak implements Synthesizer.
func (s *CommandSynthesizer) Speak(ctx context.Context, text string) error {
	argv := make([]string, 0, len(s.args)+1)
	argv = append(argv, s.args...)
	argv = append(argv, text)

	cmd := exec.CommandContext(ctx, s.command, argv...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("speech command %q: %w", s.command, err)
	}
	return nil
}
