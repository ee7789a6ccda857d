package snowflake

import (
	"context"
	"fmt"
	"log/slog"

	"snowbridge/internal/config"
)

// runQueryBlock wraps a consumer query in an anonymous procedure that runs
// it through the helper procedure and reports the outcome to the agent's
// callback functions. The block is submitted asynchronously; exactly one of
// the two callbacks fires when it finishes.
//
// Substitutions: statement timeout, helper procedure, callback schema (x2).
const runQueryBlock = `WITH RUN_QUERY AS PROCEDURE(op_id VARCHAR, query STRING)
RETURNS VARCHAR
LANGUAGE SQL
AS
$$
BEGIN
    BEGIN
        ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS=%d;
        CALL %s(:query);
        SELECT * FROM TABLE(RESULT_SCAN(:SQLID));
        SELECT %s.query_completed(:op_id, :SQLID);
    EXCEPTION
        WHEN OTHER THEN
            BEGIN
                SELECT %s.query_failed(:op_id, :sqlcode, :sqlerrm, :sqlstate);
            END;
    END;
END;
$$
CALL RUN_QUERY(?, ?);`

// Gateway exposes the fixed set of statement shapes the agent runs against
// the host account. Inbound work never reaches the statement API as raw SQL;
// it is always bound into one of these templates.
type Gateway struct {
	client *Client
	names  config.Names
	log    *slog.Logger
}

// NewGateway creates a Gateway over the given client.
func NewGateway(client *Client, names config.Names, log *slog.Logger) *Gateway {
	return &Gateway{client: client, names: names, log: log}
}

// SubmitRunQuery submits the callback-wrapped block for an operation and
// returns the statement handle. The query text travels as a bind value, not
// as statement text.
func (g *Gateway) SubmitRunQuery(ctx context.Context, opID, query string, timeoutSecs int) (string, error) {
	statement := fmt.Sprintf(runQueryBlock,
		timeoutSecs, g.names.HelperProcedure, g.names.CallbackSchema, g.names.CallbackSchema)
	handle, err := g.client.SubmitAsync(ctx, Request{
		Statement: statement,
		Binds:     []interface{}{opID, query},
	})
	if err != nil {
		return "", fmt.Errorf("submit query block: %w", err)
	}
	g.log.Debug("query block submitted", "op_id", opID, "handle", handle)
	return handle, nil
}

// ExecuteHelperQuery runs a query through the helper procedure synchronously
// and returns its result.
func (g *Gateway) ExecuteHelperQuery(ctx context.Context, query string, timeoutSecs int) (*ResultSet, error) {
	return g.client.Execute(ctx, Request{
		Statement: fmt.Sprintf("CALL %s(?)", g.names.HelperProcedure),
		Timeout:   timeoutSecs,
		Binds:     []interface{}{query},
	})
}

// FetchQueryResult retrieves the rowset of a finished query by its query id.
// The id comes from the completion callback and is passed as a bind.
func (g *Gateway) FetchQueryResult(ctx context.Context, queryID string) (*ResultSet, error) {
	rs, err := g.client.Execute(ctx, Request{
		Statement: "SELECT * FROM TABLE(RESULT_SCAN(?))",
		Binds:     []interface{}{queryID},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch result for query %s: %w", queryID, err)
	}
	return rs, nil
}

// Query runs an app-scoped statement and returns its rows. Used by the
// configuration store, the log fetcher, and the lifecycle controller; never
// reachable from inbound requests.
func (g *Gateway) Query(ctx context.Context, statement string, binds ...interface{}) ([][]interface{}, error) {
	rs, err := g.client.Execute(ctx, Request{Statement: statement, Binds: binds})
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

// Cancel cancels a statement by handle.
func (g *Gateway) Cancel(ctx context.Context, handle string) error {
	return g.client.Cancel(ctx, handle)
}

// Names returns the derived object names the gateway binds statements to.
func (g *Gateway) Names() config.Names {
	return g.names
}
