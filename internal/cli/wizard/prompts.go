// Package wizard provides interactive prompts for CLI commands.
package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
)

// InitAnswers holds the choices made while initializing an agent.
type InitAnswers struct {
	Agent     string
	Format    string
	Minutes   int
	Publisher string
	EndPolicy string
}

// PromptInit asks for the settings of a new agent, starting from defaults.
func PromptInit(defaults InitAnswers) (*InitAnswers, error) {
	a := defaults
	minutes := strconv.Itoa(defaults.Minutes)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent name").
				Description("Used for the content directory and file names").
				Value(&a.Agent).
				Validate(ValidateAgentName),

			huh.NewSelect[string]().
				Title("Document format").
				Options(
					huh.NewOption("JSON", "json"),
					huh.NewOption("YAML", "yaml"),
				).
				Value(&a.Format),

			huh.NewInput().
				Title("Minutes between posts").
				Value(&minutes).
				Validate(func(s string) error {
					_, err := ParseMinutes(s)
					return err
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Publish to").
				Options(
					huh.NewOption("X / Twitter", "twitter"),
					huh.NewOption("Signed webhook", "webhook"),
					huh.NewOption("Nowhere (dry run)", "dry-run"),
				).
				Value(&a.Publisher),

			huh.NewSelect[string]().
				Title("When the posts run out").
				Options(
					huh.NewOption("Stop and ask for more content", "AUTO"),
					huh.NewOption("Start over from the first post", "LOOP"),
					huh.NewOption("Stop", "STOP"),
				).
				Value(&a.EndPolicy),
		),
	)

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("prompt cancelled: %w", err)
	}

	m, err := ParseMinutes(minutes)
	if err != nil {
		return nil, err
	}
	a.Agent = strings.TrimSpace(a.Agent)
	a.Minutes = m
	return &a, nil
}

// ConfirmOverwrite asks before replacing an existing config file.
func ConfirmOverwrite(path string) (bool, error) {
	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Existing configuration found").
				Description(path),

			huh.NewConfirm().
				Title("Overwrite it?").
				Value(&confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return false, err
	}

	return confirmed, nil
}

// ValidateAgentName rejects names that cannot be used as a directory name.
func ValidateAgentName(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("agent name is required")
	}
	if strings.ContainsAny(s, `/\`) || s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return fmt.Errorf("agent name %q is not a valid directory name", s)
	}
	return nil
}

// ParseMinutes parses a positive whole number of minutes.
func ParseMinutes(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("minutes must be a whole number: %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("minutes must be at least 1, got %d", n)
	}
	return n, nil
}
