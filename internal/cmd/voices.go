package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/speak/internal/tts"
)

// voiceGroup is a labelled set of voices sharing a name prefix.
type voiceGroup struct {
	Name   string
	Voices []string
}

// voiceCategories maps voice name prefixes to display names, in display order.
var voiceCategories = []struct {
	prefix string
	name   string
}{
	{"af_", "American Female"},
	{"am_", "American Male"},
	{"bf_", "British Female"},
	{"bm_", "British Male"},
}

// NewVoicesCommand creates the voices command
func NewVoicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices offered by the synthesis backend",
		Args:  cobra.NoArgs,
		RunE:  runVoices,
	}
}

func runVoices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	synth, err := tts.NewSynthesizer(cfg.Synthesis)
	if err != nil {
		return err
	}
	lister, ok := synth.(tts.VoiceLister)
	if !ok {
		return fmt.Errorf("synthesis backend %q cannot list voices", cfg.Synthesis.Backend)
	}

	voices, err := lister.ListVoices(cmd.Context())
	if err != nil {
		return err
	}
	printVoiceGroups(cmd.OutOrStdout(), groupVoices(voices))
	return nil
}

// groupVoices sorts voices into the known categories, with everything
// else under "Other". Empty groups are omitted.
func groupVoices(voices []string) []voiceGroup {
	byName := make(map[string][]string)
	for _, v := range voices {
		name := "Other"
		for _, c := range voiceCategories {
			if strings.HasPrefix(v, c.prefix) {
				name = c.name
				break
			}
		}
		byName[name] = append(byName[name], v)
	}

	var groups []voiceGroup
	for _, name := range []string{"American Female", "American Male", "British Female", "British Male", "Other"} {
		if vs := byName[name]; len(vs) > 0 {
			sort.Strings(vs)
			groups = append(groups, voiceGroup{Name: name, Voices: vs})
		}
	}
	return groups
}

func printVoiceGroups(w io.Writer, groups []voiceGroup) {
	for _, g := range groups {
		fmt.Fprintf(w, "\n%s:\n", g.Name)
		for _, v := range g.Voices {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
}
