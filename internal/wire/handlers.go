package wire

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docshard/docshard/internal/command"
	"github.com/docshard/docshard/internal/coordinator"
	"github.com/docshard/docshard/internal/donor"
	"github.com/docshard/docshard/internal/localstore"
	"github.com/docshard/docshard/internal/recipient"
	"github.com/docshard/docshard/pkg/docmodel"
)

// Daemon bundles the process-wide singletons (spec.md §9 "Singletons")
// the wire handlers dispatch to.
type Daemon struct {
	Local       *localstore.Store
	Capture     *donor.MigrateFromStatus
	Migration   *recipient.MigrateStatus
	Coordinator *coordinator.Coordinator
}

// Register adds every command named in spec.md §6 plus the supplemental
// PING, _migrateFind, _migrateIndexes and _write commands to reg.
func (d *Daemon) Register(reg *command.Registry) {
	reg.Register("PING", command.Handler{
		Run: func(ctx context.Context, _ []byte) ([]byte, error) {
			return []byte(`"PONG"`), nil
		},
	})

	reg.Register("moveChunk", command.Handler{
		RequiresAdmin: true,
		Run:           d.runMoveChunk,
	})
	reg.Register("_recvChunkStart", command.Handler{
		RequiresAdmin: true,
		Run:           d.runRecvChunkStart,
	})
	reg.Register("_recvChunkStatus", command.Handler{
		RequiresAdmin: true,
		Run:           d.runRecvChunkStatus,
	})
	reg.Register("_recvChunkCommit", command.Handler{
		RequiresAdmin: true,
		Run:           d.runRecvChunkCommit,
	})
	reg.Register("_transferMods", command.Handler{
		RequiresAdmin: true,
		Run:           d.runTransferMods,
	})
	reg.Register("_migrateFind", command.Handler{
		RequiresAdmin: true,
		Run:           d.runMigrateFind,
	})
	reg.Register("_migrateIndexes", command.Handler{
		RequiresAdmin: true,
		Run:           d.runMigrateIndexes,
	})
	reg.Register("_write", command.Handler{
		Run: d.runWrite,
	})
}

func (d *Daemon) runMoveChunk(ctx context.Context, argsJSON []byte) ([]byte, error) {
	var req MoveChunkRequest
	if err := json.Unmarshal(argsJSON, &req); err != nil {
		return nil, fmt.Errorf("decode moveChunk args: %w", err)
	}

	result := d.Coordinator.MoveChunk(ctx, coordinator.Request{
		NS: req.NS, To: req.To, From: req.From, Min: req.Min, Max: req.Max, ShardID: req.ShardID,
	})

	return json.Marshal(MoveChunkResponse{
		OK:              result.OK,
		NumDeleted:      result.NumDeleted,
		ErrMsg:          result.ErrMsg,
		Who:             result.Who,
		From:            result.From,
		Official:        result.Official,
		OfficialVersion: result.OfficialVersion,
		MyVersion:       result.MyVersion,
	})
}

func (d *Daemon) runRecvChunkStart(ctx context.Context, argsJSON []byte) ([]byte, error) {
	var req RecvChunkStartRequest
	if err := json.Unmarshal(argsJSON, &req); err != nil {
		return nil, fmt.Errorf("decode _recvChunkStart args: %w", err)
	}

	if err := d.Migration.Prepare(req.NS, req.From, req.Min, req.Max); err != nil {
		return json.Marshal(RecvChunkStartResponse{OK: false, ErrMsg: err.Error()})
	}
	d.Migration.Go(NewDonorClient(req.From))
	return json.Marshal(RecvChunkStartResponse{OK: true, Started: true})
}

func (d *Daemon) runRecvChunkStatus(ctx context.Context, _ []byte) ([]byte, error) {
	s := d.Migration.GetStatus()
	return json.Marshal(RecvChunkStatusResponse{
		Active: s.Active,
		NS:     s.NS,
		From:   s.From,
		Min:    s.Min,
		Max:    s.Max,
		State:  s.State.String(),
		Counts: StatusCounts{Cloned: s.Cloned, Catchup: s.Catchup, Steady: s.Steady},
		ErrMsg: s.ErrMsg,
	})
}

func (d *Daemon) runRecvChunkCommit(ctx context.Context, _ []byte) ([]byte, error) {
	err := d.Migration.StartCommit()
	state := d.Migration.GetStatus().State.String()
	if err != nil {
		return json.Marshal(RecvChunkCommitResponse{OK: false, State: state, ErrMsg: err.Error()})
	}
	return json.Marshal(RecvChunkCommitResponse{OK: true, State: state})
}

func (d *Daemon) runTransferMods(ctx context.Context, _ []byte) ([]byte, error) {
	batch, err := d.Capture.TransferMods()
	if err != nil {
		return json.Marshal(TransferModsResponse{ErrMsg: err.Error()})
	}
	return json.Marshal(TransferModsResponse{Deleted: batch.Deleted, Reload: batch.Reload, Size: batch.Size})
}

func (d *Daemon) runMigrateFind(ctx context.Context, argsJSON []byte) ([]byte, error) {
	var req MigrateFindRequest
	if err := json.Unmarshal(argsJSON, &req); err != nil {
		return nil, fmt.Errorf("decode _migrateFind args: %w", err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 512
	}

	release := d.Local.RLock(req.NS)
	docs, cursor := d.Local.ScanRange(req.NS, req.Min, req.Max, req.Cursor, limit)
	release()

	return json.Marshal(MigrateFindResponse{Docs: docs, Cursor: cursor})
}

func (d *Daemon) runMigrateIndexes(ctx context.Context, argsJSON []byte) ([]byte, error) {
	var req MigrateIndexesRequest
	if err := json.Unmarshal(argsJSON, &req); err != nil {
		return nil, fmt.Errorf("decode _migrateIndexes args: %w", err)
	}

	release := d.Local.RLock(req.NS)
	indexes := d.Local.Indexes(req.NS)
	release()

	return json.Marshal(MigrateIndexesResponse{Indexes: indexes})
}

// runWrite applies one insert/update/delete to the local store and, in the
// same call, drives it through capture.LogOp exactly as the real storage
// engine's write path would (spec.md §4.2): this is the one place a write
// against a namespace under migration actually reaches MigrateFromStatus.
func (d *Daemon) runWrite(ctx context.Context, argsJSON []byte) ([]byte, error) {
	var req WriteRequest
	if err := json.Unmarshal(argsJSON, &req); err != nil {
		return nil, fmt.Errorf("decode _write args: %w", err)
	}

	switch req.Op {
	case "insert", "update":
		id, ok := docmodel.ExtractID(req.Doc)
		if !ok {
			return json.Marshal(WriteResponse{OK: false, ErrMsg: "document has no _id"})
		}
		release := d.Local.Lock(req.NS)
		d.Local.Upsert(req.NS, writeIDString(id), req.Doc)
		release()

		opKind := donor.OpInsert
		if req.Op == "update" {
			opKind = donor.OpUpdate
		}
		d.Capture.LogOp(opKind, req.NS, req.Doc, nil)
	case "delete":
		if req.ID == nil {
			return json.Marshal(WriteResponse{OK: false, ErrMsg: "delete requires id"})
		}
		release := d.Local.Lock(req.NS)
		d.Local.Delete(req.NS, writeIDString(req.ID))
		release()

		d.Capture.LogOp(donor.OpDelete, req.NS, docmodel.Document{"_id": req.ID}, nil)
	default:
		return json.Marshal(WriteResponse{OK: false, ErrMsg: "unknown op " + req.Op})
	}

	return json.Marshal(WriteResponse{OK: true})
}

func writeIDString(id any) string {
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprint(id)
}
