package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/offlinehq/driftsync/internal/record"
	"github.com/offlinehq/driftsync/internal/remote"
	"github.com/offlinehq/driftsync/internal/store"
)

// summaryRep identifies which remote representation of day summaries a sync
// cycle is using.
//
// Locally a day summary is one denormalized row per (owner, date) holding a
// metrics map. The preferred remote relation has the same shape; older
// deployments only have the legacy summary_metrics relation with one row per
// metric. The representation is selected once per cycle, logged, and then
// used for both push and pull — the engine never races both paths.
type summaryRep int

const (
	repAggregate summaryRep = iota
	repLegacy
)

func (r summaryRep) String() string {
	if r == repLegacy {
		return "legacy"
	}
	return "aggregate"
}

// legacyConflictKey is the uniqueness constraint of the per-metric relation.
var legacyConflictKey = []string{"user_id", "date", "metric"}

// loadSummaryRep restores the last usable representation at cycle start.
func (e *Engine) loadSummaryRep(ctx context.Context) error {
	raw, err := e.store.GetSetting(ctx, store.SettingSummaryRep)
	if err != nil {
		return err
	}
	if raw == repLegacy.String() {
		e.summaryRep = repLegacy
	} else {
		e.summaryRep = repAggregate
	}
	return nil
}

// switchSummaryRep records a representation change for the rest of the cycle
// and for future cycles.
func (e *Engine) switchSummaryRep(ctx context.Context, rep summaryRep) {
	e.summaryRep = rep
	e.config.Logger.Printf("Day summaries: using %s remote representation", rep)
	if err := e.store.SetSetting(ctx, store.SettingSummaryRep, rep.String()); err != nil {
		e.config.Logger.Printf("Warning: failed to persist summary representation: %v", err)
	}
}

// pushDaySummary writes one local aggregate to whichever representation the
// cycle selected, expanding into per-metric rows for the legacy relation.
func (e *Engine) pushDaySummary(ctx context.Context, cfg record.TableSyncConfig, row map[string]any) error {
	if e.summaryRep == repAggregate {
		written, err := e.api.Upsert(ctx, cfg.RemoteName, cfg.UpsertKey(), row)
		if err == nil {
			return e.mergePushed(ctx, record.TableDaySummaries, cfg, row, written)
		}
		if !remote.IsMissingRelation(err) {
			return err
		}
		// Aggregate relation absent on this deployment: fall back for the
		// rest of the cycle.
		e.switchSummaryRep(ctx, repLegacy)
	}

	metricRows, err := expandSummaryRow(row)
	if err != nil {
		return err
	}
	for _, metricRow := range metricRows {
		if _, err := e.api.Upsert(ctx, cfg.LegacyRemoteName, legacyConflictKey, metricRow); err != nil {
			return fmt.Errorf("upsert %s: %w", cfg.LegacyRemoteName, err)
		}
	}

	// The legacy relation can't return the aggregate shape, so the pushed
	// row itself is merged back as the authoritative local copy.
	rec, err := record.FromPayload(cfg, row)
	if err != nil {
		return err
	}
	return e.store.Merge(ctx, record.TableDaySummaries, rec)
}

// pullDaySummaries fetches day summaries from the selected representation,
// re-aggregating legacy per-metric rows into local aggregates.
func (e *Engine) pullDaySummaries(ctx context.Context, owner string, cursor time.Time) error {
	cfg := record.TableDaySummaries.Config()

	if e.summaryRep == repAggregate {
		rows, err := e.api.Select(ctx, cfg.RemoteName, remote.Query{
			OwnerKey:     cfg.OwnerKey,
			Owner:        owner,
			UpdatedSince: cursor,
		})
		if err == nil {
			for _, row := range rows {
				rec, err := record.FromPayload(cfg, row)
				if err != nil {
					return fmt.Errorf("pull %s: %w", cfg.RemoteName, err)
				}
				if err := e.store.Merge(ctx, record.TableDaySummaries, rec); err != nil {
					return err
				}
			}
			return nil
		}
		if !remote.IsMissingRelation(err) {
			return fmt.Errorf("pull %s: %w", cfg.RemoteName, err)
		}
		e.switchSummaryRep(ctx, repLegacy)
	}

	rows, err := e.api.Select(ctx, cfg.LegacyRemoteName, remote.Query{
		OwnerKey:     cfg.OwnerKey,
		Owner:        owner,
		UpdatedSince: cursor,
	})
	if remote.IsMissingRelation(err) {
		// Neither representation exists on this deployment; skippable
		// during pull.
		e.config.Logger.Printf("Pull: relation %s missing, skipping day summaries", cfg.LegacyRemoteName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("pull %s: %w", cfg.LegacyRemoteName, err)
	}

	for _, rec := range collapseSummaryRows(owner, rows) {
		if err := e.store.Merge(ctx, record.TableDaySummaries, rec); err != nil {
			return err
		}
	}
	return nil
}

// expandSummaryRow fans one aggregate row out into legacy per-metric rows.
func expandSummaryRow(row map[string]any) ([]map[string]any, error) {
	summaryID, _ := row["id"].(string)
	userID, _ := row["user_id"].(string)
	date, _ := row["date"].(string)
	updatedAt, _ := row["updated_at"].(string)

	if summaryID == "" || date == "" {
		return nil, fmt.Errorf("day summary row missing id or date")
	}

	metrics, _ := row["metrics"].(map[string]any)
	rows := make([]map[string]any, 0, len(metrics))
	for metric, value := range metrics {
		rows = append(rows, map[string]any{
			"id":         summaryID + ":" + metric,
			"summary_id": summaryID,
			"user_id":    userID,
			"date":       date,
			"metric":     metric,
			"value":      value,
			"updated_at": updatedAt,
		})
	}
	return rows, nil
}

// collapseSummaryRows re-derives local aggregates from legacy per-metric
// rows, grouping by summary and keeping the newest updated_at per group.
func collapseSummaryRows(owner string, rows []map[string]any) []*record.Record {
	groups := make(map[string]*record.Record)
	order := make([]string, 0)

	for _, row := range rows {
		date, _ := row["date"].(string)
		key, _ := row["summary_id"].(string)
		if key == "" {
			key = owner + ":" + date
		}

		rec, ok := groups[key]
		if !ok {
			rec = &record.Record{
				ID:     key,
				Owner:  owner,
				Date:   date,
				Fields: map[string]any{"metrics": map[string]any{}},
			}
			groups[key] = rec
			order = append(order, key)
		}

		metric, _ := row["metric"].(string)
		if metric != "" {
			rec.Fields["metrics"].(map[string]any)[metric] = row["value"]
		}

		if raw, _ := row["updated_at"].(string); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil && t.After(rec.UpdatedAt) {
				rec.UpdatedAt = t
			}
		}
	}

	recs := make([]*record.Record, 0, len(groups))
	for _, key := range order {
		rec := groups[key]
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now().UTC()
		}
		recs = append(recs, rec)
	}
	return recs
}
