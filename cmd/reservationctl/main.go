package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/availability"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/config"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/logging"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/policy"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/reservation"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reservationctl",
	Short: "Operator CLI for the container reservation platform",
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.AddCommand(computerCmd, reservationCmd, roleCmd, availabilityCmd)
}

func openStore(cmd *cobra.Command) (*storage.BoltStore, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: logging.Level(cfg.Logging.Level)})
	return storage.NewBoltStore(cfg.DataDir)
}

var computerCmd = &cobra.Command{
	Use:   "computer",
	Short: "Manage registered computers",
}

var computerAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a new computer pool member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, _ := cmd.Flags().GetString("ip")
		public, _ := cmd.Flags().GetBool("public")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		c := &types.Computer{ID: uuid.New().String(), Name: args[0], IP: ip, Public: public}
		if err := store.CreateComputer(c); err != nil {
			return err
		}
		fmt.Printf("computer registered: %s (%s)\n", c.Name, c.ID)
		return nil
	},
}

var computerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered computers",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		computers, err := store.ListComputers()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tIP\tPUBLIC\tREMOVED")
		for _, c := range computers {
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", c.Name, c.IP, c.Public, c.Removed)
		}
		return w.Flush()
	},
}

func init() {
	computerAddCmd.Flags().String("ip", "", "Computer IP address")
	computerAddCmd.Flags().Bool("public", true, "Visible in availability listings")
	computerCmd.AddCommand(computerAddCmd, computerListCmd)
}

var reservationCmd = &cobra.Command{
	Use:   "reservation",
	Short: "Inspect and manage reservations",
}

var reservationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reservations from the last 90 days",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		resolver := policy.NewResolver(store)
		avail := availability.NewEngine(store, resolver)
		svc := reservation.NewService(store, resolver, avail)

		reservations, err := svc.ListAll()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tCOMPUTER\tSTATUS\tSTART\tEND")
		for _, r := range reservations {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.UserID, r.ComputerID, r.Status,
				r.StartDate.Format("2006-01-02 15:04"), r.EndDate.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var reservationCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a reservation as its owner or an admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		callerUserID, _ := cmd.Flags().GetString("as-user")
		if callerUserID == "" {
			return fmt.Errorf("--as-user is required")
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		resolver := policy.NewResolver(store)
		avail := availability.NewEngine(store, resolver)
		svc := reservation.NewService(store, resolver, avail)

		resp := svc.CancelReservation(args[0], callerUserID)
		if !resp.Status {
			return errors.New(resp.Message)
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var reservationCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a reservation",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		computerID, _ := cmd.Flags().GetString("computer")
		containerID, _ := cmd.Flags().GetString("container")
		durationHours, _ := cmd.Flags().GetInt("duration-hours")
		description, _ := cmd.Flags().GetString("description")
		hardwareFlags, _ := cmd.Flags().GetStringArray("hardware")
		asUserEmail, _ := cmd.Flags().GetString("as-user-email")
		shmPercent, _ := cmd.Flags().GetInt("shm-percent")
		ramDiskPercent, _ := cmd.Flags().GetInt("ramdisk-percent")

		hardware, err := parseHardwareFlags(hardwareFlags)
		if err != nil {
			return err
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		resolver := policy.NewResolver(store)
		avail := availability.NewEngine(store, resolver)
		svc := reservation.NewService(store, resolver, avail)

		resp := svc.CreateReservation(reservation.CreateInput{
			UserID:                userID,
			StartDate:             time.Now().UTC(),
			DurationHours:         durationHours,
			ComputerID:            computerID,
			ContainerID:           containerID,
			HardwareSpecs:         hardware,
			AdminReserveUserEmail: asUserEmail,
			Description:           description,
			ShmSizePercent:        shmPercent,
			RamDiskSizePercent:    ramDiskPercent,
		})
		if !resp.Status {
			return errors.New(resp.Message)
		}
		fmt.Println(resp.Message)
		if data, ok := resp.Data.(map[string]string); ok {
			fmt.Println("reservation id:", data["reservationId"])
		}
		return nil
	},
}

// parseHardwareFlags turns repeated "specID=amount" flags into the map
// reservation.CreateInput expects.
func parseHardwareFlags(flags []string) (map[string]int, error) {
	hardware := make(map[string]int, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --hardware value %q, expected specID=amount", f)
		}
		amount, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid amount in --hardware value %q: %w", f, err)
		}
		hardware[parts[0]] = amount
	}
	return hardware, nil
}

var reservationExtendCmd = &cobra.Command{
	Use:   "extend ID",
	Short: "Extend a started reservation's end date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extraHours, _ := cmd.Flags().GetInt("extra-hours")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		resolver := policy.NewResolver(store)
		avail := availability.NewEngine(store, resolver)
		svc := reservation.NewService(store, resolver, avail)

		resp := svc.ExtendReservation(args[0], extraHours)
		if !resp.Status {
			return errors.New(resp.Message)
		}
		fmt.Println(resp.Message)
		return nil
	},
}

func init() {
	reservationCancelCmd.Flags().String("as-user", "", "User id the cancellation is performed as (required)")

	reservationCreateCmd.Flags().String("user", "", "Requesting user id (required)")
	reservationCreateCmd.Flags().String("computer", "", "Target computer id (required)")
	reservationCreateCmd.Flags().String("container", "", "Container image id (required)")
	reservationCreateCmd.Flags().Int("duration-hours", 0, "Reservation duration in hours (required)")
	reservationCreateCmd.Flags().String("description", "", "Reservation description")
	reservationCreateCmd.Flags().StringArray("hardware", nil, "Hardware spec amount as specID=amount, repeatable")
	reservationCreateCmd.Flags().String("as-user-email", "", "Reserve on behalf of this user's email (requester must be admin)")
	reservationCreateCmd.Flags().Int("shm-percent", 0, "Shared memory percent of container RAM (defaults to 50)")
	reservationCreateCmd.Flags().Int("ramdisk-percent", 0, "RAM disk percent, 0 disables it")
	_ = reservationCreateCmd.MarkFlagRequired("user")
	_ = reservationCreateCmd.MarkFlagRequired("computer")
	_ = reservationCreateCmd.MarkFlagRequired("container")
	_ = reservationCreateCmd.MarkFlagRequired("duration-hours")

	reservationExtendCmd.Flags().Int("extra-hours", 0, "Additional hours to extend by (required)")
	_ = reservationExtendCmd.MarkFlagRequired("extra-hours")

	reservationCmd.AddCommand(reservationListCmd, reservationCancelCmd, reservationCreateCmd, reservationExtendCmd)
}

var availabilityCmd = &cobra.Command{
	Use:   "availability",
	Short: "Inspect computer-pool availability",
}

var availabilityTimelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Print the availability timeline for a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromStr, _ := cmd.Flags().GetString("from")
		hours, _ := cmd.Flags().GetInt("hours")

		start := time.Now().UTC()
		if fromStr != "" {
			parsed, err := time.Parse("2006-01-02 15:04", fromStr)
			if err != nil {
				return fmt.Errorf("invalid --from value %q, expected \"2006-01-02 15:04\": %w", fromStr, err)
			}
			start = parsed.UTC()
		}
		end := start.Add(time.Duration(hours) * time.Hour)

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		resolver := policy.NewResolver(store)
		avail := availability.NewEngine(store, resolver)

		segments, err := avail.Timeline(start, end)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COMPUTER\tSTART\tEND\tBUCKET\tRATIO")
		for _, s := range segments {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\n",
				s.ComputerID, s.Start.Format("2006-01-02 15:04"), s.End.Format("2006-01-02 15:04"),
				s.Bucket, s.Ratio)
		}
		return w.Flush()
	},
}

func init() {
	availabilityTimelineCmd.Flags().String("from", "", "Window start, \"2006-01-02 15:04\" (defaults to now)")
	availabilityTimelineCmd.Flags().Int("hours", 24, "Window length in hours")
	availabilityCmd.AddCommand(availabilityTimelineCmd)
}

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage roles",
}

var roleCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		r := &types.Role{ID: uuid.New().String(), Name: args[0]}
		if err := store.CreateRole(r); err != nil {
			return err
		}
		fmt.Printf("role created: %s (%s)\n", r.Name, r.ID)
		return nil
	},
}

var roleAssignCmd = &cobra.Command{
	Use:   "assign USER_ID ROLE_ID",
	Short: "Grant a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.AddUserRole(&types.UserRole{UserID: args[0], RoleID: args[1]}); err != nil {
			return err
		}
		fmt.Println("role assigned")
		return nil
	},
}

func init() {
	roleCmd.AddCommand(roleCreateCmd, roleAssignCmd)
}
