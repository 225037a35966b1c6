package wire

import (
	"context"
	"fmt"

	"github.com/docshard/docshard/internal/recipient"
	"github.com/docshard/docshard/pkg/docmodel"
)

// DonorClient adapts Client to recipient.DonorClient, the recipient's
// view of the donor's RPC surface during CLONE/CATCHUP/STEADY.
type DonorClient struct {
	client *Client
}

// NewDonorClient returns a DonorClient dialing the donor at addr.
func NewDonorClient(addr string) *DonorClient {
	return &DonorClient{client: NewClient(addr)}
}

func (d *DonorClient) Ping(ctx context.Context) error {
	return d.client.Call(ctx, "PING", nil, nil)
}

func (d *DonorClient) Find(ctx context.Context, ns string, min, max docmodel.ShardKey, cursor string, limit int) ([]docmodel.Document, string, error) {
	var resp MigrateFindResponse
	err := d.client.Call(ctx, "_migrateFind", MigrateFindRequest{NS: ns, Min: min, Max: max, Cursor: cursor, Limit: limit}, &resp)
	if err != nil {
		return nil, "", err
	}
	return resp.Docs, resp.Cursor, nil
}

func (d *DonorClient) Indexes(ctx context.Context, ns string) ([]recipient.IndexSpec, error) {
	var resp MigrateIndexesResponse
	if err := d.client.Call(ctx, "_migrateIndexes", MigrateIndexesRequest{NS: ns}, &resp); err != nil {
		return nil, err
	}
	return resp.Indexes, nil
}

func (d *DonorClient) TransferMods(ctx context.Context) (recipient.ModsBatch, error) {
	var resp TransferModsResponse
	if err := d.client.Call(ctx, "_transferMods", nil, &resp); err != nil {
		return recipient.ModsBatch{}, err
	}
	if resp.ErrMsg != "" {
		return recipient.ModsBatch{}, fmt.Errorf("_transferMods: %s", resp.ErrMsg)
	}
	return recipient.ModsBatch{Deleted: resp.Deleted, Reload: resp.Reload, Size: resp.Size}, nil
}
