package indexing

import (
	"github.com/kailas-cloud/searchbridge/internal/content"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/queue"
)

// AffectedOps maps one content event onto the tasks it implies, one per
// enabled synced index whose scope covers the item. Pure function: no
// repository or engine access, so fan-out is unit-testable in isolation.
//
// Save, restore and slug moves all become upserts; the item is re-resolved
// when the task runs, so the distinction carries no payload. Deletes become
// document deletes.
func AffectedOps(ev content.Event, indexes []domidx.Index) []queue.Task {
	var op queue.Op
	switch ev.Kind {
	case content.EventSaved, content.EventRestored, content.EventSlugMoved:
		op = queue.OpUpsert
	case content.EventDeleted:
		op = queue.OpDelete
	default:
		return nil
	}

	var tasks []queue.Task
	for _, idx := range indexes {
		if !idx.Enabled() || idx.IndexMode() != domidx.ModeSynced {
			continue
		}
		if !idx.InScope(ev.Item.ContentType, ev.Item.Site) {
			continue
		}
		tasks = append(tasks, queue.Task{
			Op:     op,
			Index:  idx.Handle(),
			ItemID: ev.Item.ID,
		})
	}
	return tasks
}
