package wire

import (
	"context"

	"github.com/docshard/docshard/internal/coordinator"
	"github.com/docshard/docshard/pkg/docmodel"
)

// NewRecipientDialer returns a coordinator.RecipientDialer that opens a
// RecipientClient for whatever address moveChunk names as "to".
func NewRecipientDialer() coordinator.RecipientDialer {
	return func(addr string) (coordinator.RecipientClient, error) {
		return NewRecipientClient(addr), nil
	}
}

// RecipientClient adapts Client to coordinator.RecipientClient, the
// coordinator's view of the recipient's RPC surface during MoveChunk.
type RecipientClient struct {
	client *Client
}

// NewRecipientClient returns a RecipientClient dialing the recipient at
// addr. It also satisfies coordinator.RecipientDialer's return type when
// wrapped: see NewRecipientDialer.
func NewRecipientClient(addr string) *RecipientClient {
	return &RecipientClient{client: NewClient(addr)}
}

func (r *RecipientClient) RecvChunkStart(ctx context.Context, ns, from string, min, max docmodel.ShardKey) error {
	var resp RecvChunkStartResponse
	if err := r.client.Call(ctx, "_recvChunkStart", RecvChunkStartRequest{NS: ns, From: from, Min: min, Max: max}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return errMsg(resp.ErrMsg, "_recvChunkStart failed")
	}
	return nil
}

func (r *RecipientClient) RecvChunkStatus(ctx context.Context) (bool, string, error) {
	var resp RecvChunkStatusResponse
	if err := r.client.Call(ctx, "_recvChunkStatus", nil, &resp); err != nil {
		return false, "", err
	}
	return resp.Active, resp.State, nil
}

func (r *RecipientClient) RecvChunkCommit(ctx context.Context) error {
	var resp RecvChunkCommitResponse
	if err := r.client.Call(ctx, "_recvChunkCommit", nil, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return errMsg(resp.ErrMsg, "_recvChunkCommit failed")
	}
	return nil
}
