package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"skyport/internal/domain"
	"skyport/internal/usecase/migration"
	"skyport/internal/usecase/process"
)

// MigrationService is the slice of the migration service the bridge drives.
type MigrationService interface {
	Start(ctx context.Context, settings migration.Settings) (*migration.Run, error)
	Cancel(ctx context.Context) bool
	State() domain.AggregateState
	Active() *migration.Run
	Logs(n int) ([]process.TailLine, error)
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Migration MigrationService
	History   domain.RunStore // can be nil (history disabled)
	Bus       domain.EventBus
	Logger    *slog.Logger
}

// defaultListLimit applies when a list call omits limit.
const defaultListLimit = 50

// RegisterDefaultHandlers registers all built-in RPC handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler("migration.start", migrationStartHandler(deps))
	s.RegisterHandler("migration.cancel", migrationCancelHandler(deps))
	s.RegisterHandler("migration.state", migrationStateHandler(deps))
	s.RegisterHandler("migration.logs", migrationLogsHandler(deps))
	s.RegisterHandler("history.list", historyListHandler(deps))
	s.RegisterHandler("history.get", historyGetHandler(deps))
}

func payloadError(op string, err error) error {
	return domain.NewSubSystemError("gateway", op, domain.ErrRPCPayload, err.Error())
}

type migrationStartRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	ArchiveFolder string `json:"archiveFolder"`
	Simulate      bool   `json:"simulate"`
	MinDate       string `json:"minDate"`
	MaxDate       string `json:"maxDate"`
	TestMode      string `json:"testMode"`
}

type migrationStartResponse struct {
	RunID     string             `json:"runId"`
	ProcessID string             `json:"processId"`
	Settings  domain.RunSettings `json:"settings"`
}

func migrationStartHandler(deps HandlerDeps) RPCHandler {
	validator := mustValidator(startSchema)
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		if err := validator.validate(payload); err != nil {
			return nil, payloadError("migration.start", err)
		}
		var req migrationStartRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, payloadError("migration.start", err)
		}

		settings := migration.Settings{
			Username:      req.Username,
			Password:      req.Password,
			ArchiveFolder: req.ArchiveFolder,
			Simulate:      req.Simulate,
			TestMode:      migration.TestMode(req.TestMode),
		}
		var err error
		if settings.MinDate, err = migration.ParseDate(req.MinDate); err != nil {
			return nil, err
		}
		if settings.MaxDate, err = migration.ParseDate(req.MaxDate); err != nil {
			return nil, err
		}

		// Runs outlive the request that started them.
		run, err := deps.Migration.Start(context.WithoutCancel(ctx), settings)
		if err != nil {
			return nil, err
		}
		deps.Logger.Info("migration started over bridge", "client", client.Name, "run_id", run.ID)
		return json.Marshal(migrationStartResponse{
			RunID:     run.ID,
			ProcessID: run.ProcessID,
			Settings:  run.Settings,
		})
	}
}

func migrationCancelHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		cancelled := deps.Migration.Cancel(ctx)
		if cancelled {
			deps.Logger.Info("migration cancel requested over bridge", "client", client.Name)
		}
		return json.Marshal(map[string]bool{"cancelled": cancelled})
	}
}

type migrationStateResponse struct {
	Running bool                  `json:"running"`
	RunID   string                `json:"runId,omitempty"`
	State   domain.AggregateState `json:"state"`
}

func migrationStateHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		resp := migrationStateResponse{State: deps.Migration.State()}
		if run := deps.Migration.Active(); run != nil {
			resp.Running = true
			resp.RunID = run.ID
		}
		return json.Marshal(resp)
	}
}

type limitRequest struct {
	Limit int `json:"limit"`
}

func decodeLimit(op string, v *payloadValidator, payload json.RawMessage, def int) (int, error) {
	if err := v.validate(payload); err != nil {
		return 0, payloadError(op, err)
	}
	var req limitRequest
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &req); err != nil {
			return 0, payloadError(op, err)
		}
	}
	if req.Limit <= 0 {
		req.Limit = def
	}
	return req.Limit, nil
}

func migrationLogsHandler(deps HandlerDeps) RPCHandler {
	validator := mustValidator(limitSchema)
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		limit, err := decodeLimit("migration.logs", validator, payload, process.DefaultTailLines)
		if err != nil {
			return nil, err
		}
		lines, err := deps.Migration.Logs(limit)
		if err != nil {
			return nil, err
		}
		if lines == nil {
			lines = []process.TailLine{}
		}
		return json.Marshal(map[string]any{"lines": lines})
	}
}

func historyListHandler(deps HandlerDeps) RPCHandler {
	validator := mustValidator(limitSchema)
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		if deps.History == nil {
			return nil, domain.NewSubSystemError("gateway", "history.list", domain.ErrDisabled, "history is disabled")
		}
		limit, err := decodeLimit("history.list", validator, payload, defaultListLimit)
		if err != nil {
			return nil, err
		}
		runs, err := deps.History.List(ctx, limit)
		if err != nil {
			return nil, err
		}
		if runs == nil {
			runs = []domain.RunRecord{}
		}
		return json.Marshal(map[string]any{"runs": runs})
	}
}

type historyGetRequest struct {
	ID string `json:"id"`
}

func historyGetHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		if deps.History == nil {
			return nil, domain.NewSubSystemError("gateway", "history.get", domain.ErrDisabled, "history is disabled")
		}
		var req historyGetRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, payloadError("history.get", err)
		}
		if req.ID == "" {
			return nil, domain.NewSubSystemError("gateway", "history.get", domain.ErrRPCPayload, "id is required")
		}
		rec, err := deps.History.Get(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rec)
	}
}
