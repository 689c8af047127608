package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/ipc"
	"github.com/esap-cc/shortlinker/internal/reload"
	"github.com/esap-cc/shortlinker/internal/service"
)

// IPCDeps collects what the IPC request handlers need.
type IPCDeps struct {
	Links    *service.LinkService
	Streamer service.ExportStreamer
	Configs  *config.Store
	Reloader *reload.Coordinator
	Version  string
}

// RegisterIPCHandlers maps every IPC request kind onto its service call.
// Link payloads are core.ShortLink values, the same type the CLI gets in
// direct mode, so it renders both the same way; they differ from the
// admin API's link response shape.
func RegisterIPCHandlers(srv *ipc.Server, deps IPCDeps) {
	srv.Handle(ipc.KindPing, func(context.Context, json.RawMessage) (any, error) {
		return map[string]string{"status": "ok", "version": deps.Version}, nil
	})

	srv.Handle(ipc.KindReload, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Target string `json:"target"`
		}
		if len(payload) > 0 {
			json.Unmarshal(payload, &req)
		}
		return deps.Reloader.Reload(ctx, reload.ParseTarget(req.Target))
	})

	srv.Handle(ipc.KindShutdown, func(context.Context, json.RawMessage) (any, error) {
		return map[string]string{"status": "shutting down"}, nil
	})

	srv.Handle(ipc.KindLinkAdd, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req service.CreateRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("invalid payload: " + err.Error())
		}
		return deps.Links.Create(ctx, req)
	})

	srv.Handle(ipc.KindLinkRemove, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("invalid payload: " + err.Error())
		}
		if err := deps.Links.Delete(ctx, req.Code); err != nil {
			return nil, err
		}
		return map[string]string{"status": "deleted"}, nil
	})

	srv.Handle(ipc.KindLinkUpdate, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Code string `json:"code"`
			service.UpdateRequest
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("invalid payload: " + err.Error())
		}
		return deps.Links.Update(ctx, req.Code, req.UpdateRequest)
	})

	srv.Handle(ipc.KindLinkGet, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("invalid payload: " + err.Error())
		}
		return deps.Links.Get(ctx, req.Code)
	})

	srv.Handle(ipc.KindLinkList, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Page     int    `json:"page"`
			PageSize int    `json:"page_size"`
			Search   string `json:"search"`
		}
		if len(payload) > 0 {
			json.Unmarshal(payload, &req)
		}
		links, total, err := deps.Links.List(ctx, core.LinkFilter{Search: req.Search}, req.Page, req.PageSize)
		if err != nil {
			return nil, err
		}
		return map[string]any{"links": links, "total": total}, nil
	})

	srv.Handle(ipc.KindLinkStats, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return deps.Links.Stats(ctx)
	})

	srv.Handle(ipc.KindLinkImport, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Rows []service.ImportRow `json:"rows"`
			Mode string              `json:"mode"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("invalid payload: " + err.Error())
		}
		return deps.Links.Import(ctx, req.Rows, core.ParseImportMode(req.Mode))
	})

	srv.Handle(ipc.KindLinkExport, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Search string `json:"search"`
		}
		if len(payload) > 0 {
			json.Unmarshal(payload, &req)
		}
		var sb strings.Builder
		if _, err := deps.Links.ExportCSV(ctx, deps.Streamer, core.LinkFilter{Search: req.Search}, &sb); err != nil {
			return nil, err
		}
		return map[string]string{"csv": sb.String()}, nil
	})

	srv.Handle(ipc.KindConfigGet, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("invalid payload: " + err.Error())
		}
		item, err := deps.Configs.GetFull(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		if item.IsSensitive {
			item.Value = config.Redacted
		}
		return item, nil
	})

	srv.Handle(ipc.KindConfigSet, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("invalid payload: " + err.Error())
		}
		result, err := deps.Configs.Set(ctx, req.Key, req.Value)
		if err != nil {
			return nil, err
		}
		if result.IsSensitive {
			result.Value = config.Redacted
			result.OldValue = nil
		}
		return result, nil
	})

	srv.Handle(ipc.KindConfigReset, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, core.NewValidationError("invalid payload: " + err.Error())
		}
		result, err := deps.Configs.Reset(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		if result.IsSensitive {
			result.Value = config.Redacted
			result.OldValue = nil
		}
		return result, nil
	})

	srv.Handle(ipc.KindConfigList, func(ctx context.Context, _ json.RawMessage) (any, error) {
		items, err := deps.Configs.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.IsSensitive {
				item.Value = config.Redacted
			}
		}
		return items, nil
	})
}
