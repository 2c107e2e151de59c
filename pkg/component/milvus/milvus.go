// Package milvus wraps the Milvus v2 SDK for the memory chunk collection.
package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/memhub/pkg/options/milvus"
)

const (
	fieldID        = "id"
	fieldUserID    = "user_id"
	fieldContent   = "content"
	fieldTimestamp = "timestamp"
	fieldEmbedding = "embedding"

	userIDMaxLen  = 128
	contentMaxLen = 65535
)

// Client wraps the Milvus SDK client for a single memory chunk collection.
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options
}

// Dial connects to Milvus using the given options.
func Dial(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(dialCtx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{client: c, opts: opts}, nil
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// EnsureCollection creates the memory chunk collection and its index when
// missing, then makes sure the collection is loaded. Already loaded
// collections are left untouched so repeated calls stay cheap.
func (c *Client) EnsureCollection(ctx context.Context) error {
	name := c.opts.Collection

	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		collSchema := entity.NewSchema().
			WithName(name).
			WithDescription("conversation memory chunks").
			WithAutoID(true)

		collSchema.WithField(
			entity.NewField().
				WithName(fieldID).
				WithDataType(entity.FieldTypeInt64).
				WithIsPrimaryKey(true).
				WithIsAutoID(true),
		)
		collSchema.WithField(
			entity.NewField().
				WithName(fieldUserID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(userIDMaxLen),
		)
		collSchema.WithField(
			entity.NewField().
				WithName(fieldContent).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(contentMaxLen),
		)
		collSchema.WithField(
			entity.NewField().
				WithName(fieldTimestamp).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64),
		)
		collSchema.WithField(
			entity.NewField().
				WithName(fieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(c.opts.Dim)),
		)

		if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, collSchema)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := index.NewIvfFlatIndex(entity.COSINE, 128)
		createIdxTask, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, fieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := createIdxTask.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}

		// Scalar index on the tenant field, every search filters on it
		scalarIdx := index.NewInvertedIndex()
		scalarTask, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, fieldUserID, scalarIdx))
		if err != nil {
			return fmt.Errorf("failed to create scalar index: %w", err)
		}
		if err := scalarTask.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for scalar index creation: %w", err)
		}
	}

	state, err := c.client.GetLoadState(ctx, milvusclient.NewGetLoadStateOption(name))
	if err != nil {
		return fmt.Errorf("failed to get load state: %w", err)
	}
	if state.State == entity.LoadStateLoaded {
		return nil
	}

	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	return nil
}

// InsertChunks inserts tenant chunks with their embeddings. All slices must
// have the same length. Returns the number of inserted rows.
func (c *Client) InsertChunks(ctx context.Context, userID string, contents []string, timestamps []string, embeddings [][]float32) (int, error) {
	if len(contents) == 0 {
		return 0, nil
	}
	if len(contents) != len(embeddings) || len(contents) != len(timestamps) {
		return 0, fmt.Errorf("mismatched chunk slices: %d contents, %d timestamps, %d embeddings",
			len(contents), len(timestamps), len(embeddings))
	}

	userIDs := make([]string, len(contents))
	for i := range userIDs {
		userIDs[i] = userID
	}

	columns := []column.Column{
		column.NewColumnVarChar(fieldUserID, userIDs),
		column.NewColumnVarChar(fieldContent, contents),
		column.NewColumnVarChar(fieldTimestamp, timestamps),
		column.NewColumnFloatVector(fieldEmbedding, c.opts.Dim, embeddings),
	}

	result, err := c.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(c.opts.Collection, columns...))
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunks: %w", err)
	}

	// Flush so freshly uploaded memories are searchable immediately
	flushTask, err := c.client.Flush(ctx, milvusclient.NewFlushOption(c.opts.Collection))
	if err != nil {
		return 0, fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return 0, fmt.Errorf("failed to wait for flush: %w", err)
	}

	return int(result.InsertCount), nil
}

// SearchHit is a single similarity search hit.
type SearchHit struct {
	ID        int64
	Score     float32
	Content   string
	Timestamp string
}

// SearchByTenant runs a vector similarity search restricted to one tenant.
func (c *Client) SearchByTenant(ctx context.Context, userID string, vector []float32, topK int) ([]SearchHit, error) {
	expr := fmt.Sprintf("%s == %q", fieldUserID, userID)

	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		c.opts.Collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(fieldEmbedding).
		WithSearchParam("nprobe", "16").
		WithFilter(expr).
		WithOutputFields(fieldContent, fieldTimestamp))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	if len(results) == 0 {
		return []SearchHit{}, nil
	}

	hits := make([]SearchHit, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		hit := SearchHit{Score: results[0].Scores[i]}

		if idCol, ok := results[0].IDs.(*column.ColumnInt64); ok {
			hit.ID = idCol.Data()[i]
		}

		for _, field := range results[0].Fields {
			col, ok := field.(*column.ColumnVarChar)
			if !ok {
				continue
			}
			// 缺失的行退化为空串
			val := ""
			if data := col.Data(); i < len(data) {
				val = data[i]
			}
			switch col.Name() {
			case fieldContent:
				hit.Content = val
			case fieldTimestamp:
				hit.Timestamp = val
			}
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

// RowCount returns the number of entities in the collection.
func (c *Client) RowCount(ctx context.Context) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(c.opts.Collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}

	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(c.opts.Collection)); err != nil {
		return fmt.Errorf("milvus ping failed: %w", err)
	}
	return nil
}
