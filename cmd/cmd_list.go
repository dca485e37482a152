// cmd_list.go - PS und Stop Commands gegen einen laufenden Server
// Hauptfunktionen: ListRunningHandler, StopHandler, checkServerHeartbeat
package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-caffe2/predictor/api"
)

// checkServerHeartbeat - Bricht ab, wenn kein Server erreichbar ist
func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}
	if err := client.Heartbeat(cmd.Context()); err != nil {
		return errors.New("could not connect to a running predictor server, start one with 'predictor serve'")
	}
	return nil
}

// ListRunningHandler - Listet die vom Server gehaltenen Predictoren
func ListRunningHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	models, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, m := range models.Models {
		if len(args) == 0 || strings.HasPrefix(m.ID, args[0]) || strings.HasPrefix(m.Name, args[0]) {
			data = append(data, []string{
				m.ID[:min(len(m.ID), 8)],
				m.Name,
				m.Device,
				strings.Join(m.Inputs, ","),
				strings.Join(m.Outputs, ","),
				humanSince(m.LastUsed),
			})
		}
	}

	table := newTable(cmd.OutOrStdout(), []string{"ID", "NAME", "DEVICE", "INPUTS", "OUTPUTS", "LAST USED"})
	table.AppendBulk(data)
	table.Render()

	return nil
}

// StopHandler - Schliesst einen Predictor auf dem Server
func StopHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	models, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	// Kurz-IDs aus "ps" sind erlaubt, solange sie eindeutig sind
	var match []string
	for _, m := range models.Models {
		if strings.HasPrefix(m.ID, args[0]) {
			match = append(match, m.ID)
		}
	}
	switch len(match) {
	case 0:
		return fmt.Errorf("no predictor with id %q", args[0])
	case 1:
		return client.Delete(cmd.Context(), match[0])
	default:
		return fmt.Errorf("id %q is ambiguous (%d matches)", args[0], len(match))
	}
}

func humanSince(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	d := time.Since(t).Round(time.Second)
	if d < time.Second {
		return "Just now"
	}
	return d.String() + " ago"
}
