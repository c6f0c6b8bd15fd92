// ABOUTME: Bulk export and import of a namespace's vouches for backups and moves between databases
// ABOUTME: Import runs in one transaction and skips rows that would duplicate an existing vouch

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ExportVouches returns every vouch in a namespace in insertion order.
func (s *SQLiteStore) ExportVouches(ctx context.Context, namespace string) ([]*Vouch, error) {
	return call(ctx, s, "export_vouches", func(ctx context.Context) ([]*Vouch, error) {
		rows, err := s.db.QueryContext(ctx, `SELECT `+vouchColumns+` FROM vouches WHERE guild_id = ? ORDER BY id ASC`, namespace)
		if err != nil {
			return nil, storageErr("export_vouches", fmt.Errorf("querying vouches: %w", err))
		}
		out, err := scanVouches(rows)
		return out, storageErr("export_vouches", err)
	})
}

// ImportVouches writes vouches into namespace, ignoring their own ID and
// namespace fields. Vouches that match an existing one are skipped. A zero
// CreatedAt is stamped with the current time. It returns how many rows were
// inserted. The import and its audit entry commit together or not at all.
func (s *SQLiteStore) ImportVouches(ctx context.Context, namespace string, vouches []*Vouch) (int, error) {
	for i, v := range vouches {
		if v == nil {
			return 0, fmt.Errorf("%w: record %d is nil", ErrInvalidVouch, i)
		}
		if v.Rating < 0 || v.Rating > 5 {
			return 0, fmt.Errorf("%w: vouch %d has rating %d", ErrInvalidRating, v.ID, v.Rating)
		}
	}

	return call(ctx, s, "import_vouches", func(ctx context.Context) (int, error) {
		var inserted int64
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT OR IGNORE INTO vouches (seller_id, buyer_id, guild_id, rating, text, img_hash, desc_hash,
					image_path, image_url, notify_seller, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`)
			if err != nil {
				return fmt.Errorf("preparing insert: %w", err)
			}
			defer stmt.Close()

			now := s.timestamp()
			for _, v := range vouches {
				ts := now
				if !v.CreatedAt.IsZero() {
					ts = formatTime(v.CreatedAt)
				}
				r, err := stmt.ExecContext(ctx, v.Seller, v.Buyer, namespace, v.Rating, v.Text, v.ImageHash,
					v.DescriptionHash, nullString(v.ImagePath), nullString(v.ImageURL), boolInt(v.NotifySeller), ts)
				if err != nil {
					return fmt.Errorf("inserting vouch: %w", err)
				}
				n, err := r.RowsAffected()
				if err != nil {
					return fmt.Errorf("counting inserted vouch: %w", err)
				}
				inserted += n
			}

			return s.appendAudit(ctx, tx, &AuditEntry{
				Action:          AuditImportVouches,
				SourceNamespace: namespace,
				Detail: map[string]any{
					"submitted": len(vouches),
					"inserted":  inserted,
				},
			})
		})
		if err != nil {
			return 0, &IntegrityError{Op: "import_vouches", Err: err}
		}

		s.logger.Info("imported vouches", "namespace", namespace, "submitted", len(vouches), "inserted", inserted)
		return int(inserted), nil
	})
}
