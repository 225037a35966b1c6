// Package wire carries the chunk migration core's commands over a RESP
// transport (tidwall/redcon), with each command's single argument and
// reply encoded as one JSON bulk string (SPEC_FULL.md §4 ambient
// additions). Grounded on the teacher's RESP server loop
// (internal/protocol/server.go) and its hand-rolled RESP client
// (controllers/migration.go).
package wire

import (
	"github.com/docshard/docshard/internal/configstore"
	"github.com/docshard/docshard/pkg/docmodel"
)

// MoveChunkRequest is the moveChunk command's argument (spec.md §6).
type MoveChunkRequest struct {
	NS      string            `json:"ns"`
	To      string            `json:"to"`
	From    string            `json:"from"`
	Min     docmodel.ShardKey `json:"min"`
	Max     docmodel.ShardKey `json:"max"`
	ShardID string            `json:"shardId"`
}

// MoveChunkResponse is the moveChunk command's reply (spec.md §6).
type MoveChunkResponse struct {
	OK              bool                     `json:"ok"`
	NumDeleted      int64                    `json:"numDeleted,omitempty"`
	ErrMsg          string                   `json:"errmsg,omitempty"`
	Who             *configstore.LockRecord  `json:"who,omitempty"`
	From            string                   `json:"from,omitempty"`
	Official        string                   `json:"official,omitempty"`
	OfficialVersion uint64                   `json:"officialVersion,omitempty"`
	MyVersion       uint64                   `json:"myVersion,omitempty"`
}

// RecvChunkStartRequest is _recvChunkStart's argument (spec.md §6).
type RecvChunkStartRequest struct {
	NS   string            `json:"ns"`
	From string            `json:"from"`
	Min  docmodel.ShardKey `json:"min"`
	Max  docmodel.ShardKey `json:"max"`
}

// RecvChunkStartResponse is _recvChunkStart's reply.
type RecvChunkStartResponse struct {
	OK      bool   `json:"ok"`
	Started bool   `json:"started,omitempty"`
	ErrMsg  string `json:"errmsg,omitempty"`
}

// RecvChunkStatusResponse is _recvChunkStatus's reply (spec.md §6).
type RecvChunkStatusResponse struct {
	Active bool              `json:"active"`
	NS     string            `json:"ns,omitempty"`
	From   string            `json:"from,omitempty"`
	Min    docmodel.ShardKey `json:"min,omitempty"`
	Max    docmodel.ShardKey `json:"max,omitempty"`
	State  string            `json:"state,omitempty"`
	Counts StatusCounts      `json:"counts,omitempty"`
	ErrMsg string            `json:"errmsg,omitempty"`
}

// StatusCounts are the recipient's progress counters.
type StatusCounts struct {
	Cloned  int `json:"cloned"`
	Catchup int `json:"catchup"`
	Steady  int `json:"steady"`
}

// RecvChunkCommitResponse is _recvChunkCommit's reply (spec.md §6).
type RecvChunkCommitResponse struct {
	OK     bool   `json:"ok"`
	State  string `json:"state,omitempty"`
	ErrMsg string `json:"errmsg,omitempty"`
}

// TransferModsResponse is _transferMods's reply (spec.md §6).
type TransferModsResponse struct {
	Deleted []any               `json:"deleted"`
	Reload  []docmodel.Document `json:"reload"`
	Size    int                 `json:"size"`
	ErrMsg  string              `json:"errmsg,omitempty"`
}

// MigrateFindRequest is the supplemental _migrateFind command's argument
// (SPEC_FULL.md §4, §6).
type MigrateFindRequest struct {
	NS     string            `json:"ns"`
	Min    docmodel.ShardKey `json:"min"`
	Max    docmodel.ShardKey `json:"max"`
	Cursor string            `json:"cursor"`
	Limit  int               `json:"limit"`
}

// MigrateFindResponse is _migrateFind's reply.
type MigrateFindResponse struct {
	Docs   []docmodel.Document `json:"docs"`
	Cursor string              `json:"cursor"`
}

// MigrateIndexesRequest is the supplemental _migrateIndexes command's
// argument.
type MigrateIndexesRequest struct {
	NS string `json:"ns"`
}

// MigrateIndexesResponse is _migrateIndexes's reply.
type MigrateIndexesResponse struct {
	Indexes []docmodel.Document `json:"indexes"`
}

// WriteRequest is the supplemental _write command's argument: a stand-in
// for "the storage engine's normal write path," which spec.md §1 puts
// out of scope but which spec.md §4.2 requires to call log_op on every
// insert/update/delete against a namespace currently under capture.
type WriteRequest struct {
	NS  string            `json:"ns"`
	Op  string            `json:"op"` // "insert", "update", or "delete"
	ID  any               `json:"id,omitempty"`
	Doc docmodel.Document `json:"doc,omitempty"`
}

// WriteResponse is _write's reply.
type WriteResponse struct {
	OK     bool   `json:"ok"`
	ErrMsg string `json:"errmsg,omitempty"`
}
