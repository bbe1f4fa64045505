package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/unowned-ai/resonance/pkg/memories"
)

// RegisterTools registers every resonance tool on s.
func RegisterTools(s *server.MCPServer, engine *memories.Engine) {
	RegisterPingTool(s)
	RegisterPutRecordTool(s, engine)
	RegisterGetRecordTool(s, engine)
	RegisterUpdateRecordTool(s, engine)
	RegisterDeleteRecordTool(s, engine)
	RegisterListOwnerRecordsTool(s, engine)
	RegisterListCategoryRecordsTool(s, engine)
	RegisterRandomRecordTool(s, engine)
	RegisterListTagsTool(s, engine)
	RegisterTickRemindersTool(s, engine)
}

var categoryList = func() string {
	names := make([]string, len(memories.Categories))
	for i, c := range memories.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}()

// RegisterPingTool registers the simple ping tool.
func RegisterPingTool(s *server.MCPServer) {
	pingTool := mcp.NewTool("ping",
		mcp.WithDescription("Responds with 'pong_resonance' to check if the Resonance MCP server is alive."),
	)
	s.AddTool(pingTool, pingHandler)
}

func pingHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("pong_resonance"), nil
}

// RegisterPutRecordTool registers the put_record tool.
func RegisterPutRecordTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("put_record",
		mcp.WithDescription("Stores a new audio memory record and schedules its first reminder."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the record.")),
		mcp.WithString("category", mcp.Required(), mcp.Description("Emotion label, one of: "+categoryList+".")),
		mcp.WithString("payload_ref", mcp.Required(), mcp.Description("Opaque reference to the stored audio.")),
		mcp.WithString("record_id", mcp.Description("Optional record id; generated when omitted.")),
		mcp.WithString("created_at", mcp.Description("Optional RFC 3339 creation time; defaults to now.")),
		mcp.WithString("tags", mcp.Description("Optional comma-separated list of tags.")),
		mcp.WithString("transcript", mcp.Description("Optional transcript text.")),
	)
	s.AddTool(tool, putRecordHandler(engine))
}

func putRecordHandler(engine *memories.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.Params.Arguments
		owner, _ := args["owner_id"].(string)
		payload, _ := args["payload_ref"].(string)
		rawCategory, _ := args["category"].(string)
		if owner == "" || payload == "" || rawCategory == "" {
			return mcp.NewToolResultError("'owner_id', 'category' and 'payload_ref' are required."), nil
		}
		category, err := memories.ParseCategory(rawCategory)
		if err != nil {
			return toolError("put record", err), nil
		}

		rec := memories.Record{OwnerID: owner, Category: category, PayloadRef: payload}
		rec.RecordID, _ = args["record_id"].(string)
		if raw, _ := args["created_at"].(string); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("'created_at' must be RFC 3339: %v", err)), nil
			}
			rec.CreatedAt = t
		}
		if tags, _ := args["tags"].(string); tags != "" {
			rec.Tags = parseTags(tags)
		}
		if transcript, ok := args["transcript"].(string); ok && transcript != "" {
			rec.Transcript = &transcript
		}

		stored, err := engine.Store.Put(ctx, rec)
		if err != nil {
			return toolError("put record", err), nil
		}
		return jsonResult(stored)
	}
}

// RegisterGetRecordTool registers the get_record tool.
func RegisterGetRecordTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("get_record",
		mcp.WithDescription("Retrieves an active record by owner and id."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the record.")),
		mcp.WithString("record_id", mcp.Required(), mcp.Description("Id of the record.")),
	)
	s.AddTool(tool, getRecordHandler(engine))
}

func getRecordHandler(engine *memories.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, _ := request.Params.Arguments["owner_id"].(string)
		id, _ := request.Params.Arguments["record_id"].(string)
		if owner == "" || id == "" {
			return mcp.NewToolResultError("'owner_id' and 'record_id' are required."), nil
		}
		rec, err := engine.Store.Get(ctx, owner, id)
		if err != nil {
			return toolError("get record", err), nil
		}
		return jsonResult(rec)
	}
}

// RegisterUpdateRecordTool registers the update_record tool.
func RegisterUpdateRecordTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("update_record",
		mcp.WithDescription("Updates tags, transcript, detected category, category or the next reminder of a record. Fails with a conflict if version is stale."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the record.")),
		mcp.WithString("record_id", mcp.Required(), mcp.Description("Id of the record.")),
		mcp.WithNumber("version", mcp.Required(), mcp.Description("Version the caller last read.")),
		mcp.WithString("category", mcp.Description("Optional new emotion label.")),
		mcp.WithString("tags", mcp.Description("Optional comma-separated list replacing all tags.")),
		mcp.WithString("transcript", mcp.Description("Optional transcript text.")),
		mcp.WithString("detected_category", mcp.Description("Optional label detected by enrichment.")),
		mcp.WithString("next_reminder_at", mcp.Description("Optional RFC 3339 time of the next reminder.")),
		mcp.WithBoolean("clear_next_reminder", mcp.Description("Stop reminders for this record.")),
	)
	s.AddTool(tool, updateRecordHandler(engine))
}

func updateRecordHandler(engine *memories.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.Params.Arguments
		owner, _ := args["owner_id"].(string)
		id, _ := args["record_id"].(string)
		version, ok := args["version"].(float64)
		if owner == "" || id == "" || !ok || version < 1 {
			return mcp.NewToolResultError("'owner_id', 'record_id' and a positive 'version' are required."), nil
		}

		var m memories.Mutation
		if raw, ok := args["category"].(string); ok && raw != "" {
			c, err := memories.ParseCategory(raw)
			if err != nil {
				return toolError("update record", err), nil
			}
			m.Category = &c
		}
		if raw, ok := args["tags"].(string); ok {
			tags := parseTags(raw)
			m.Tags = &tags
		}
		if transcript, ok := args["transcript"].(string); ok {
			m.Transcript = &transcript
		}
		if detected, ok := args["detected_category"].(string); ok {
			m.DetectedCategory = &detected
		}
		if raw, ok := args["next_reminder_at"].(string); ok && raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("'next_reminder_at' must be RFC 3339: %v", err)), nil
			}
			m.NextReminderAt = &t
		}
		m.ClearNextReminder, _ = args["clear_next_reminder"].(bool)

		rec, err := engine.Store.Update(ctx, owner, id, int64(version), m)
		if err != nil {
			return toolError("update record", err), nil
		}
		return jsonResult(rec)
	}
}

// RegisterDeleteRecordTool registers the delete_record tool.
func RegisterDeleteRecordTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("delete_record",
		mcp.WithDescription("Soft-deletes a record. Deleting twice succeeds."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the record.")),
		mcp.WithString("record_id", mcp.Required(), mcp.Description("Id of the record.")),
	)
	s.AddTool(tool, deleteRecordHandler(engine))
}

func deleteRecordHandler(engine *memories.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, _ := request.Params.Arguments["owner_id"].(string)
		id, _ := request.Params.Arguments["record_id"].(string)
		if owner == "" || id == "" {
			return mcp.NewToolResultError("'owner_id' and 'record_id' are required."), nil
		}
		if err := engine.Store.Delete(ctx, owner, id); err != nil {
			return toolError("delete record", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Record '%s' deleted.", id)), nil
	}
}

// RegisterListOwnerRecordsTool registers the list_owner_records tool.
func RegisterListOwnerRecordsTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("list_owner_records",
		mcp.WithDescription("Lists an owner's records newest first, one page at a time."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner whose records to list.")),
		mcp.WithString("category", mcp.Description("Optional emotion label filter.")),
		mcp.WithString("cursor", mcp.Description("next_cursor from the previous page.")),
		mcp.WithNumber("page_size", mcp.Description("Records per page, at most 100.")),
	)
	s.AddTool(tool, listOwnerRecordsHandler(engine))
}

func listOwnerRecordsHandler(engine *memories.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.Params.Arguments
		owner, _ := args["owner_id"].(string)
		if owner == "" {
			return mcp.NewToolResultError("'owner_id' is required."), nil
		}
		q := memories.OwnerQuery{OwnerID: owner}
		q.Cursor, _ = args["cursor"].(string)
		if n, ok := args["page_size"].(float64); ok {
			q.PageSize = int(n)
		}
		if raw, ok := args["category"].(string); ok && raw != "" {
			c, err := memories.ParseCategory(raw)
			if err != nil {
				return toolError("list records", err), nil
			}
			q.Category = &c
		}

		page, err := engine.Query.ListByOwner(ctx, q)
		if err != nil {
			return toolError("list records", err), nil
		}
		return jsonResult(page)
	}
}

// RegisterListCategoryRecordsTool registers the list_category_records tool.
func RegisterListCategoryRecordsTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("list_category_records",
		mcp.WithDescription("Lists records of one emotion label across all owners, newest first."),
		mcp.WithString("category", mcp.Required(), mcp.Description("Emotion label, one of: "+categoryList+".")),
		mcp.WithString("cursor", mcp.Description("next_cursor from the previous page.")),
		mcp.WithNumber("page_size", mcp.Description("Records per page, at most 100.")),
	)
	s.AddTool(tool, listCategoryRecordsHandler(engine))
}

func listCategoryRecordsHandler(engine *memories.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.Params.Arguments
		raw, _ := args["category"].(string)
		c, err := memories.ParseCategory(raw)
		if err != nil {
			return toolError("list records", err), nil
		}
		q := memories.CategoryQuery{Category: c}
		q.Cursor, _ = args["cursor"].(string)
		if n, ok := args["page_size"].(float64); ok {
			q.PageSize = int(n)
		}

		page, err := engine.Query.ListByCategory(ctx, q)
		if err != nil {
			return toolError("list records", err), nil
		}
		return jsonResult(page)
	}
}

// RegisterRandomRecordTool registers the random_record tool.
func RegisterRandomRecordTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("random_record",
		mcp.WithDescription("Returns a random active record, optionally limited to a category and/or owner."),
		mcp.WithString("category", mcp.Description("Optional emotion label filter.")),
		mcp.WithString("owner_id", mcp.Description("Optional owner filter.")),
	)
	s.AddTool(tool, randomRecordHandler(engine))
}

func randomRecordHandler(engine *memories.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.Params.Arguments
		owner, _ := args["owner_id"].(string)
		var category memories.Category
		if raw, ok := args["category"].(string); ok && raw != "" {
			c, err := memories.ParseCategory(raw)
			if err != nil {
				return toolError("random record", err), nil
			}
			category = c
		}

		rec, err := engine.Sampler.RandomMatch(ctx, category, owner)
		if err != nil {
			return toolError("random record", err), nil
		}
		return jsonResult(rec)
	}
}

// RegisterListTagsTool registers the list_tags tool.
func RegisterListTagsTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("list_tags",
		mcp.WithDescription("Lists the tags on an owner's active records with usage counts."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner whose tags to list.")),
	)
	s.AddTool(tool, listTagsHandler(engine))
}

func listTagsHandler(engine *memories.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, _ := request.Params.Arguments["owner_id"].(string)
		if owner == "" {
			return mcp.NewToolResultError("'owner_id' is required."), nil
		}
		tags, err := engine.Store.ListTags(ctx, owner)
		if err != nil {
			return toolError("list tags", err), nil
		}
		return jsonResult(tags)
	}
}

// RegisterTickRemindersTool registers the tick_reminders tool.
func RegisterTickRemindersTool(s *server.MCPServer, engine *memories.Engine) {
	tool := mcp.NewTool("tick_reminders",
		mcp.WithDescription("Advances every due reminder and returns the emitted reminder events."),
		mcp.WithString("now", mcp.Description("Optional RFC 3339 time to tick at; defaults to now.")),
	)
	s.AddTool(tool, tickRemindersHandler(engine, time.Now))
}

func tickRemindersHandler(engine *memories.Engine, clock func() time.Time) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		now := clock()
		if raw, _ := request.Params.Arguments["now"].(string); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("'now' must be RFC 3339: %v", err)), nil
			}
			now = t
		}
		events, err := engine.Scheduler.Tick(ctx, now)
		if err != nil {
			return toolError("tick reminders", err), nil
		}
		return jsonResult(events)
	}
}

// toolError renders an engine error with a hint the model can act on.
func toolError(op string, err error) *mcp.CallToolResult {
	hint := ""
	switch {
	case errors.Is(err, memories.ErrConflict):
		hint = " Re-read the record and retry with its current version."
	case errors.Is(err, memories.ErrNotFound):
		hint = " The record does not exist or was deleted."
	case errors.Is(err, memories.ErrNoMatch):
		hint = " No record matches these filters."
	}
	return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v.%s", op, err, hint))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize result to JSON: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseTags(raw string) []string {
	return memories.NormalizeTags(strings.Split(raw, ","))
}
