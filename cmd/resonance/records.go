package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unowned-ai/resonance/pkg/memories"
)

var (
	ownerFlag    string
	categoryFlag string
	jsonOutput   bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage audio memory records",
	Long:  `Store, read, list, update, delete and sample emotion-labeled audio memory records.`,
}

var putRecordCmd = &cobra.Command{
	Use:   "put",
	Short: "Store a new record",
	Long:  `Store a new record and schedule its first reminder from the configured cadence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		category, err := memories.ParseCategory(categoryFlag)
		if err != nil {
			return err
		}
		payload, _ := cmd.Flags().GetString("payload")
		id, _ := cmd.Flags().GetString("id")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		rec := memories.Record{
			RecordID:   id,
			OwnerID:    ownerFlag,
			Category:   category,
			PayloadRef: payload,
			Tags:       tags,
		}
		if createdAt, err := timeFlag(cmd, "created-at"); err != nil {
			return err
		} else if createdAt != nil {
			rec.CreatedAt = *createdAt
		}
		if cmd.Flags().Changed("transcript") {
			transcript, _ := cmd.Flags().GetString("transcript")
			rec.Transcript = &transcript
		}

		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		stored, err := engine.Store.Put(context.Background(), rec)
		if err != nil {
			return describe("put record", err)
		}
		if jsonOutput {
			return printJSON(stored)
		}
		fmt.Println("Record stored successfully!")
		printRecord(stored)
		return nil
	},
}

var getRecordCmd = &cobra.Command{
	Use:   "get [record-id]",
	Short: "Show a record",
	Long:  `Show an active record. With --owner, the record must belong to that owner.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		var rec memories.Record
		if ownerFlag != "" {
			rec, err = engine.Store.Get(context.Background(), ownerFlag, args[0])
		} else {
			rec, err = engine.Store.GetByID(context.Background(), args[0])
		}
		if err != nil {
			return describe("get record", err)
		}
		if jsonOutput {
			return printJSON(rec)
		}
		printRecord(rec)
		return nil
	},
}

var listRecordsCmd = &cobra.Command{
	Use:   "list",
	Short: "List records newest first",
	Long: `List an owner's records (--owner, optionally narrowed by --category), or every
owner's records in one category (--category alone). Pass the printed cursor back with
--cursor to read the next page.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ownerFlag == "" && categoryFlag == "" {
			return fmt.Errorf("either --owner or --category is required")
		}
		cursor, _ := cmd.Flags().GetString("cursor")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		start, err := timeFlag(cmd, "start")
		if err != nil {
			return err
		}
		end, err := timeFlag(cmd, "end")
		if err != nil {
			return err
		}

		var category memories.Category
		if categoryFlag != "" {
			if category, err = memories.ParseCategory(categoryFlag); err != nil {
				return err
			}
		}

		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		var page memories.Page
		if ownerFlag != "" {
			q := memories.OwnerQuery{OwnerID: ownerFlag, Start: start, End: end, Cursor: cursor, PageSize: pageSize}
			if category != "" {
				q.Category = &category
			}
			page, err = engine.Query.ListByOwner(context.Background(), q)
		} else {
			page, err = engine.Query.ListByCategory(context.Background(), memories.CategoryQuery{
				Category: category, Start: start, End: end, Cursor: cursor, PageSize: pageSize,
			})
		}
		if err != nil {
			return describe("list records", err)
		}
		if jsonOutput {
			return printJSON(page)
		}

		if len(page.Records) == 0 {
			fmt.Println("No records found.")
			return nil
		}
		fmt.Println("ID | Owner | Category | Created At | Tags")
		fmt.Println("------------------------------------------------------------")
		for _, r := range page.Records {
			fmt.Printf("%s | %s | %s | %s | %s\n",
				r.RecordID, r.OwnerID, r.Category, r.CreatedAt.Format(time.RFC3339), strings.Join(r.Tags, ","))
		}
		if page.HasMore {
			fmt.Printf("\nNext page: --cursor %s\n", page.NextCursor)
		}
		return nil
	},
}

var updateRecordCmd = &cobra.Command{
	Use:   "update [record-id]",
	Short: "Update a record",
	Long: `Update a record's category, tags, transcript, detected category or next reminder.
--version must be the version last read; a stale version is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		version, _ := cmd.Flags().GetInt64("version")
		flags := cmd.Flags()

		var m memories.Mutation
		if flags.Changed("category") {
			c, err := memories.ParseCategory(categoryFlag)
			if err != nil {
				return err
			}
			m.Category = &c
		}
		if flags.Changed("tags") {
			tags, _ := flags.GetStringSlice("tags")
			m.Tags = &tags
		}
		if flags.Changed("transcript") {
			transcript, _ := flags.GetString("transcript")
			m.Transcript = &transcript
		}
		if flags.Changed("detected") {
			detected, _ := flags.GetString("detected")
			m.DetectedCategory = &detected
		}
		next, err := timeFlag(cmd, "next-reminder")
		if err != nil {
			return err
		}
		m.NextReminderAt = next
		m.ClearNextReminder, _ = flags.GetBool("clear-reminder")

		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		rec, err := engine.Store.Update(context.Background(), ownerFlag, args[0], version, m)
		if err != nil {
			return describe("update record", err)
		}
		if jsonOutput {
			return printJSON(rec)
		}
		fmt.Println("Record updated successfully!")
		printRecord(rec)
		return nil
	},
}

var deleteRecordCmd = &cobra.Command{
	Use:   "delete [record-id]",
	Short: "Soft delete a record",
	Long:  `Mark a record inactive. It disappears from listings, sampling and reminders. Deleting twice is not an error.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := engine.Store.Delete(context.Background(), ownerFlag, args[0]); err != nil {
			return describe("delete record", err)
		}
		fmt.Printf("Record %s marked as deleted.\n", args[0])
		return nil
	},
}

var randomRecordCmd = &cobra.Command{
	Use:   "random",
	Short: "Pick a random record",
	Long:  `Pick an active record uniformly at random, optionally restricted to --category and/or --owner.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var category memories.Category
		if categoryFlag != "" {
			c, err := memories.ParseCategory(categoryFlag)
			if err != nil {
				return err
			}
			category = c
		}

		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		rec, err := engine.Sampler.RandomMatch(context.Background(), category, ownerFlag)
		if err != nil {
			return describe("pick record", err)
		}
		if jsonOutput {
			return printJSON(rec)
		}
		printRecord(rec)
		return nil
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List an owner's tags",
	Long:  `List every tag on the owner's active records with the number of records carrying it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		conn, engine, err := openEngine()
		if err != nil {
			return err
		}
		defer conn.Close()

		tags, err := engine.Store.ListTags(context.Background(), ownerFlag)
		if err != nil {
			return describe("list tags", err)
		}
		if jsonOutput {
			return printJSON(tags)
		}
		if len(tags) == 0 {
			fmt.Println("No tags found.")
			return nil
		}
		for _, t := range tags {
			fmt.Printf("%s (%d)\n", t.Tag, t.Count)
		}
		return nil
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the emotion labels",
	Run: func(cmd *cobra.Command, args []string) {
		for _, c := range memories.Categories {
			fmt.Println(c)
		}
	},
}

func requireOwner() error {
	if strings.TrimSpace(ownerFlag) == "" {
		return fmt.Errorf("--owner is required")
	}
	return nil
}

// timeFlag parses an optional RFC 3339 flag; unset yields nil.
func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--%s must be RFC 3339 (e.g. 2024-03-01T09:00:00Z): %w", name, err)
	}
	return &t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecord(rec memories.Record) {
	fmt.Println("Record Details:")
	fmt.Printf("ID:            %s\n", rec.RecordID)
	fmt.Printf("Owner:         %s\n", rec.OwnerID)
	fmt.Printf("Category:      %s\n", rec.Category)
	if rec.DetectedCategory != nil {
		fmt.Printf("Detected:      %s\n", *rec.DetectedCategory)
	}
	fmt.Printf("Payload:       %s\n", rec.PayloadRef)
	fmt.Printf("Tags:          %s\n", strings.Join(rec.Tags, ", "))
	if rec.Transcript != nil {
		fmt.Printf("Transcript:    %s\n", *rec.Transcript)
	}
	fmt.Printf("Created At:    %s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated At:    %s\n", rec.UpdatedAt.Format(time.RFC3339))
	if rec.NextReminderAt != nil {
		fmt.Printf("Next Reminder: %s\n", rec.NextReminderAt.Format(time.RFC3339))
	}
	fmt.Printf("Version:       %d\n", rec.Version)
}

func initRecordsCmd() {
	recordsCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "Owner id")
	recordsCmd.PersistentFlags().StringVar(&categoryFlag, "category", "", "Emotion label (see 'resonance categories')")
	recordsCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")

	putRecordCmd.Flags().String("payload", "", "Reference to the stored audio (required)")
	putRecordCmd.Flags().String("id", "", "Record id (generated if omitted)")
	putRecordCmd.Flags().String("created-at", "", "Creation time, RFC 3339 (default: now)")
	putRecordCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")
	putRecordCmd.Flags().String("transcript", "", "Transcript text")
	putRecordCmd.MarkFlagRequired("payload")

	listRecordsCmd.Flags().String("cursor", "", "Cursor from the previous page")
	listRecordsCmd.Flags().Int("page-size", 0, "Records per page (default from config)")
	listRecordsCmd.Flags().String("start", "", "Only records created at or after this RFC 3339 time")
	listRecordsCmd.Flags().String("end", "", "Only records created before this RFC 3339 time")

	updateRecordCmd.Flags().Int64("version", 0, "Version last read (required)")
	updateRecordCmd.Flags().StringSlice("tags", nil, "Replace all tags")
	updateRecordCmd.Flags().String("transcript", "", "Transcript text")
	updateRecordCmd.Flags().String("detected", "", "Detected emotion label (empty clears it)")
	updateRecordCmd.Flags().String("next-reminder", "", "Next reminder time, RFC 3339")
	updateRecordCmd.Flags().Bool("clear-reminder", false, "Stop reminders for this record")
	updateRecordCmd.MarkFlagRequired("version")


	recordsCmd.AddCommand(
		putRecordCmd,
		getRecordCmd,
		listRecordsCmd,
		updateRecordCmd,
		deleteRecordCmd,
		randomRecordCmd,
		tagsCmd,
	)
}
