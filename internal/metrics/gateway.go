package metrics

import (
	"context"
	"time"

	"snowbridge/internal/dispatch"
	"snowbridge/internal/snowflake"
)

// InstrumentedGateway times warehouse calls for the collector. All calls
// delegate to the wrapped gateway.
type InstrumentedGateway struct {
	gateway   dispatch.QueryGateway
	collector *Collector
}

var _ dispatch.QueryGateway = (*InstrumentedGateway)(nil)

// NewInstrumentedGateway wraps gateway so call durations land in collector.
func NewInstrumentedGateway(gateway dispatch.QueryGateway, collector *Collector) *InstrumentedGateway {
	return &InstrumentedGateway{gateway: gateway, collector: collector}
}

func (g *InstrumentedGateway) SubmitRunQuery(ctx context.Context, opID, query string, timeoutSecs int) (string, error) {
	start := time.Now()
	handle, err := g.gateway.SubmitRunQuery(ctx, opID, query, timeoutSecs)
	g.collector.observeWarehouseCall(callSubmit, time.Since(start))
	return handle, err
}

func (g *InstrumentedGateway) ExecuteHelperQuery(ctx context.Context, query string, timeoutSecs int) (*snowflake.ResultSet, error) {
	start := time.Now()
	rs, err := g.gateway.ExecuteHelperQuery(ctx, query, timeoutSecs)
	g.collector.observeWarehouseCall(callHelper, time.Since(start))
	return rs, err
}

func (g *InstrumentedGateway) FetchQueryResult(ctx context.Context, queryID string) (*snowflake.ResultSet, error) {
	start := time.Now()
	rs, err := g.gateway.FetchQueryResult(ctx, queryID)
	g.collector.observeWarehouseCall(callFetch, time.Since(start))
	return rs, err
}

func (g *InstrumentedGateway) Cancel(ctx context.Context, handle string) error {
	start := time.Now()
	err := g.gateway.Cancel(ctx, handle)
	g.collector.observeWarehouseCall(callCancel, time.Since(start))
	return err
}
