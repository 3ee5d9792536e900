package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/huangxiaoye/reservation/internal/api"
	"github.com/huangxiaoye/reservation/internal/config"
	"github.com/huangxiaoye/reservation/internal/rsvp"
)

// --- reserve ---

var reserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Reserve a resource for a time window",
	Long: `Reserve a resource for a time window.

Examples:
  reservationd reserve --user tyr --resource ocean-view-room-713 \
      --start 2022-12-25T15:00:00-07:00 --end 2022-12-28T12:00:00-07:00 \
      --note "xyz project"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		resource, _ := cmd.Flags().GetString("resource")
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")
		note, _ := cmd.Flags().GetString("note")

		start, err := parseTimeFlag("start", startStr)
		if err != nil {
			return err
		}
		end, err := parseTimeFlag("end", endStr)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reservations", rsvp.Reservation{
			UserID:     user,
			ResourceID: resource,
			Window:     rsvp.Window{Start: start, End: end},
			Note:       note,
		})
		if err != nil {
			return err
		}
		var created rsvp.Reservation
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Reserved %s for %s", created.ResourceID, created.UserID)
		printReservation(created)
		return nil
	},
}

// --- confirm ---

var confirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Confirm a pending reservation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/reservations/"+args[0]+"/confirm", nil)
		if err != nil {
			return err
		}
		var confirmed rsvp.Reservation
		if err := decodeJSON(resp, &confirmed); err != nil {
			return err
		}

		printSuccess("Confirmed reservation #%d", confirmed.ID)
		printReservation(confirmed)
		return nil
	},
}

// --- note ---

var noteCmd = &cobra.Command{
	Use:   "note <id> <text>...",
	Short: "Update the note on a reservation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/reservations/"+args[0]+"/note", map[string]string{
			"note": strings.Join(args[1:], " "),
		})
		if err != nil {
			return err
		}
		var updated rsvp.Reservation
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}

		printSuccess("Updated note on reservation #%d", updated.ID)
		printReservation(updated)
		return nil
	},
}

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a reservation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/reservations/"+args[0])
		if err != nil {
			return err
		}
		var reservation rsvp.Reservation
		if err := decodeJSON(resp, &reservation); err != nil {
			return err
		}

		printReservation(reservation)
		return nil
	},
}

// --- rm ---

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a reservation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/reservations/"+args[0])
		if err != nil {
			return err
		}
		var deleted rsvp.Reservation
		if err := decodeJSON(resp, &deleted); err != nil {
			return err
		}

		printSuccess("Deleted reservation #%d", deleted.ID)
		printReservation(deleted)
		return nil
	},
}

// --- ls ---

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List reservations (one page)",
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := filterParams(cmd)
		if err != nil {
			return err
		}
		if size, _ := cmd.Flags().GetInt("page-size"); size != 0 {
			params.Set("page_size", strconv.Itoa(size))
		}
		if cursor, _ := cmd.Flags().GetInt64("cursor"); cursor != 0 {
			params.Set("cursor", strconv.FormatInt(cursor, 10))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/reservations?"+params.Encode())
		if err != nil {
			return err
		}
		var page api.FilterResponse
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		for _, r := range page.Reservations {
			printReservation(r)
		}
		if page.Pager.Next != nil {
			printStatus("Next page", "--cursor %d", *page.Pager.Next)
		}
		return nil
	},
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream every matching reservation (unbounded query)",
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := filterParams(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/reservations/query?"+params.Encode())
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			var streamErr struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(line, &streamErr) == nil && streamErr.Error != "" {
				return fmt.Errorf("stream error: %s", streamErr.Error)
			}
			var r rsvp.Reservation
			if err := json.Unmarshal(line, &r); err != nil {
				return fmt.Errorf("parsing stream line: %w", err)
			}
			printReservation(r)
		}
		return scanner.Err()
	},
}

// filterParams collects the query flags shared by ls and watch.
func filterParams(cmd *cobra.Command) (url.Values, error) {
	params := url.Values{}
	status, _ := cmd.Flags().GetString("status")
	params.Set("status", status)

	if user, _ := cmd.Flags().GetString("user"); user != "" {
		params.Set("user_id", user)
	}
	if resource, _ := cmd.Flags().GetString("resource"); resource != "" {
		params.Set("resource_id", resource)
	}
	for _, name := range []string{"start", "end"} {
		v, _ := cmd.Flags().GetString(name)
		if v == "" {
			continue
		}
		t, err := parseTimeFlag(name, v)
		if err != nil {
			return nil, err
		}
		params.Set(name, t.Format("2006-01-02T15:04:05Z07:00"))
	}
	if desc, _ := cmd.Flags().GetBool("desc"); desc {
		params.Set("desc", "true")
	}
	return params, nil
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "filter by user id")
	cmd.Flags().String("resource", "", "filter by resource id")
	cmd.Flags().String("status", "all", "status to match: pending, confirmed, blocked, or all")
	cmd.Flags().String("start", "", "window start (RFC 3339)")
	cmd.Flags().String("end", "", "window end (RFC 3339)")
	cmd.Flags().Bool("desc", false, "sort by id descending")
}

func init() {
	reserveCmd.Flags().String("user", "", "user id making the reservation")
	reserveCmd.Flags().String("resource", "", "resource id to reserve")
	reserveCmd.Flags().String("start", "", "window start (RFC 3339)")
	reserveCmd.Flags().String("end", "", "window end (RFC 3339)")
	reserveCmd.Flags().String("note", "", "optional note")
	reserveCmd.MarkFlagRequired("user")
	reserveCmd.MarkFlagRequired("resource")
	reserveCmd.MarkFlagRequired("start")
	reserveCmd.MarkFlagRequired("end")

	addFilterFlags(lsCmd)
	lsCmd.Flags().Int("page-size", 0, "rows per page (default 10)")
	lsCmd.Flags().Int64("cursor", 0, "exclusive id bound from a previous page")

	addFilterFlags(watchCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
