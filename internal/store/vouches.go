// ABOUTME: Vouch and reply persistence: duplicate-guarded inserts, scoped lookups, leaderboard
// ABOUTME: Duplicate detection keys on seller, namespace, image hash and description hash

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const vouchColumns = `id, seller_id, buyer_id, guild_id, rating, text, img_hash, desc_hash,
	image_path, image_url, notify_seller, timestamp`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVouch(row rowScanner) (*Vouch, error) {
	var v Vouch
	var imagePath, imageURL sql.NullString
	var notify sql.NullInt64
	var ts string
	if err := row.Scan(&v.ID, &v.Seller, &v.Buyer, &v.Namespace, &v.Rating, &v.Text,
		&v.ImageHash, &v.DescriptionHash, &imagePath, &imageURL, &notify, &ts); err != nil {
		return nil, err
	}
	v.ImagePath = stringPtr(imagePath)
	v.ImageURL = stringPtr(imageURL)
	v.NotifySeller = !notify.Valid || notify.Int64 != 0

	var err error
	if v.CreatedAt, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parsing vouch %d timestamp: %w", v.ID, err)
	}
	return &v, nil
}

func scanVouches(rows *sql.Rows) ([]*Vouch, error) {
	defer rows.Close()
	var out []*Vouch
	for rows.Next() {
		v, err := scanVouch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vouch row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vouch rows: %w", err)
	}
	return out, nil
}

// AddVouch inserts a vouch and returns its ID.
//
// A vouch whose seller, namespace, image hash and description hash match an
// existing row is rejected with ErrDuplicateVouch and nothing is written. The
// pre-check avoids a failed insert in the common case; the unique index is
// what actually guarantees it, so a racing insert maps to the same error.
// Every other failure is a *StorageError.
func (s *SQLiteStore) AddVouch(ctx context.Context, nv NewVouch) (int64, error) {
	if nv.Rating < 0 || nv.Rating > 5 {
		return 0, ErrInvalidRating
	}
	notify := true
	if nv.NotifySeller != nil {
		notify = *nv.NotifySeller
	}

	return call(ctx, s, "add_vouch", func(ctx context.Context) (int64, error) {
		dup, err := s.isDuplicate(ctx, s.db, nv.Seller, nv.Namespace, nv.ImageHash, nv.DescriptionHash)
		if err != nil {
			return 0, storageErr("add_vouch", err)
		}
		if dup {
			s.logger.Debug("rejected duplicate vouch", "seller", nv.Seller, "namespace", nv.Namespace)
			return 0, ErrDuplicateVouch
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO vouches (seller_id, buyer_id, guild_id, rating, text, img_hash, desc_hash,
				image_path, image_url, notify_seller, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, nv.Seller, nv.Buyer, nv.Namespace, nv.Rating, nv.Text, nv.ImageHash, nv.DescriptionHash,
			nullString(nv.ImagePath), nullString(nv.ImageURL), boolInt(notify), s.timestamp())
		if err != nil {
			if isConstraintViolation(err) {
				return 0, ErrDuplicateVouch
			}
			return 0, storageErr("add_vouch", fmt.Errorf("inserting vouch: %w", err))
		}

		id, err := res.LastInsertId()
		if err != nil {
			return 0, storageErr("add_vouch", fmt.Errorf("reading vouch id: %w", err))
		}
		s.logger.Debug("added vouch", "id", id, "seller", nv.Seller, "namespace", nv.Namespace)
		return id, nil
	})
}

// IsDuplicateVouch reports whether a vouch with the given identity already exists.
func (s *SQLiteStore) IsDuplicateVouch(ctx context.Context, seller, namespace, imageHash, descHash string) (bool, error) {
	return call(ctx, s, "is_duplicate_vouch", func(ctx context.Context) (bool, error) {
		dup, err := s.isDuplicate(ctx, s.db, seller, namespace, imageHash, descHash)
		return dup, storageErr("is_duplicate_vouch", err)
	})
}

func (s *SQLiteStore) isDuplicate(ctx context.Context, q queryer, seller, namespace, imageHash, descHash string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM vouches
		WHERE seller_id = ? AND guild_id = ? AND img_hash = ? AND desc_hash = ?
		LIMIT 1
	`, seller, namespace, imageHash, descHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking duplicate vouch: %w", err)
	}
	return true, nil
}

// GetVouch retrieves a vouch by ID within a namespace.
// Returns ErrNotFound if it doesn't exist there.
func (s *SQLiteStore) GetVouch(ctx context.Context, id int64, namespace string) (*Vouch, error) {
	return call(ctx, s, "get_vouch", func(ctx context.Context) (*Vouch, error) {
		row := s.db.QueryRowContext(ctx, `SELECT `+vouchColumns+` FROM vouches WHERE id = ? AND guild_id = ?`, id, namespace)
		v, err := scanVouch(row)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, storageErr("get_vouch", fmt.Errorf("querying vouch: %w", err))
		}
		return v, nil
	})
}

// ListVouchesBySeller returns every vouch for seller in the namespace, newest first.
func (s *SQLiteStore) ListVouchesBySeller(ctx context.Context, seller, namespace string) ([]*Vouch, error) {
	return call(ctx, s, "list_vouches_by_seller", func(ctx context.Context) ([]*Vouch, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+vouchColumns+` FROM vouches
			WHERE seller_id = ? AND guild_id = ?
			ORDER BY timestamp DESC, id DESC
		`, seller, namespace)
		if err != nil {
			return nil, storageErr("list_vouches_by_seller", fmt.Errorf("querying vouches: %w", err))
		}
		out, err := scanVouches(rows)
		return out, storageErr("list_vouches_by_seller", err)
	})
}

// ListVouchesByParty returns vouches where party is seller or buyer, newest first.
// If limit is 0 or negative, a default limit of 20 is used.
func (s *SQLiteStore) ListVouchesByParty(ctx context.Context, party, namespace string, limit, offset int) ([]*Vouch, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	return call(ctx, s, "list_vouches_by_party", func(ctx context.Context) ([]*Vouch, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+vouchColumns+` FROM vouches
			WHERE guild_id = ? AND (seller_id = ? OR buyer_id = ?)
			ORDER BY timestamp DESC, id DESC
			LIMIT ? OFFSET ?
		`, namespace, party, party, limit, offset)
		if err != nil {
			return nil, storageErr("list_vouches_by_party", fmt.Errorf("querying vouches: %w", err))
		}
		out, err := scanVouches(rows)
		return out, storageErr("list_vouches_by_party", err)
	})
}

// DeleteVouch removes a vouch and, through the cascade, its replies.
// It reports whether a row in the namespace was removed.
func (s *SQLiteStore) DeleteVouch(ctx context.Context, id int64, namespace string) (bool, error) {
	return call(ctx, s, "delete_vouch", func(ctx context.Context) (bool, error) {
		result, err := s.db.ExecContext(ctx, `DELETE FROM vouches WHERE id = ? AND guild_id = ?`, id, namespace)
		if err != nil {
			return false, storageErr("delete_vouch", fmt.Errorf("deleting vouch: %w", err))
		}
		n, err := result.RowsAffected()
		if err != nil {
			return false, storageErr("delete_vouch", fmt.Errorf("getting rows affected: %w", err))
		}
		if n > 0 {
			s.logger.Debug("deleted vouch", "id", id, "namespace", namespace)
		}
		return n > 0, nil
	})
}

// CountVouches returns the number of vouches in a namespace.
func (s *SQLiteStore) CountVouches(ctx context.Context, namespace string) (int, error) {
	return call(ctx, s, "count_vouches", func(ctx context.Context) (int, error) {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vouches WHERE guild_id = ?`, namespace).Scan(&n); err != nil {
			return 0, storageErr("count_vouches", fmt.Errorf("counting vouches: %w", err))
		}
		return n, nil
	})
}

type aggregate struct {
	count int
	avg   float64
}

// SellerAggregates returns the vouch count and mean rating for a seller.
// A seller with no vouches has count 0 and mean 0.
func (s *SQLiteStore) SellerAggregates(ctx context.Context, seller, namespace string) (int, float64, error) {
	agg, err := call(ctx, s, "seller_aggregates", func(ctx context.Context) (aggregate, error) {
		var a aggregate
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(AVG(rating), 0) FROM vouches WHERE seller_id = ? AND guild_id = ?
		`, seller, namespace).Scan(&a.count, &a.avg)
		if err != nil {
			return a, storageErr("seller_aggregates", fmt.Errorf("aggregating vouches: %w", err))
		}
		return a, nil
	})
	return agg.count, agg.avg, err
}

// Leaderboard ranks sellers in a namespace by mean rating, then by vouch
// count, then by seller ID. Sellers with fewer than minVouches are omitted.
// If limit is 0 or negative, a default limit of 10 is used.
func (s *SQLiteStore) Leaderboard(ctx context.Context, namespace string, limit, minVouches int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if minVouches < 1 {
		minVouches = 1
	}

	return call(ctx, s, "leaderboard", func(ctx context.Context) ([]LeaderboardEntry, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT seller_id, COUNT(*) AS total_vouches, AVG(rating) AS avg_rating
			FROM vouches
			WHERE guild_id = ?
			GROUP BY seller_id
			HAVING COUNT(*) >= ?
			ORDER BY avg_rating DESC, total_vouches DESC, seller_id ASC
			LIMIT ?
		`, namespace, minVouches, limit)
		if err != nil {
			return nil, storageErr("leaderboard", fmt.Errorf("querying leaderboard: %w", err))
		}
		defer rows.Close()

		var out []LeaderboardEntry
		for rows.Next() {
			var e LeaderboardEntry
			if err := rows.Scan(&e.Seller, &e.Count, &e.AvgRating); err != nil {
				return nil, storageErr("leaderboard", fmt.Errorf("scanning leaderboard row: %w", err))
			}
			out = append(out, e)
		}
		return out, storageErr("leaderboard", rows.Err())
	})
}

// AddReply attaches a reply to a vouch in the same namespace and returns its ID.
// Returns ErrNotFound if the vouch does not exist in that namespace; every
// other failure is a *StorageError.
func (s *SQLiteStore) AddReply(ctx context.Context, nr NewReply) (int64, error) {
	return call(ctx, s, "add_reply", func(ctx context.Context) (int64, error) {
		var seller, buyer string
		err := s.db.QueryRowContext(ctx, `SELECT seller_id, buyer_id FROM vouches WHERE id = ? AND guild_id = ?`,
			nr.VouchID, nr.Namespace).Scan(&seller, &buyer)
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, storageErr("add_reply", fmt.Errorf("checking parent vouch: %w", err))
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO vouch_replies (vouch_id, guild_id, seller_id, buyer_id, text, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, nr.VouchID, nr.Namespace, seller, buyer, nr.Text, s.timestamp())
		if err != nil {
			if isForeignKeyViolation(err) {
				return 0, ErrNotFound
			}
			return 0, storageErr("add_reply", fmt.Errorf("inserting reply: %w", err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, storageErr("add_reply", fmt.Errorf("reading reply id: %w", err))
		}
		s.logger.Debug("added reply", "id", id, "vouch_id", nr.VouchID, "namespace", nr.Namespace)
		return id, nil
	})
}

// ListReplies returns a vouch's replies in insertion order.
func (s *SQLiteStore) ListReplies(ctx context.Context, vouchID int64, namespace string) ([]*Reply, error) {
	return call(ctx, s, "list_replies", func(ctx context.Context) ([]*Reply, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, vouch_id, guild_id, seller_id, buyer_id, text, created_at
			FROM vouch_replies
			WHERE vouch_id = ? AND guild_id = ?
			ORDER BY id ASC
		`, vouchID, namespace)
		if err != nil {
			return nil, storageErr("list_replies", fmt.Errorf("querying replies: %w", err))
		}
		defer rows.Close()

		var out []*Reply
		for rows.Next() {
			var r Reply
			var ts string
			if err := rows.Scan(&r.ID, &r.VouchID, &r.Namespace, &r.Seller, &r.Buyer, &r.Text, &ts); err != nil {
				return nil, storageErr("list_replies", fmt.Errorf("scanning reply row: %w", err))
			}
			if r.CreatedAt, err = parseTime(ts); err != nil {
				return nil, storageErr("list_replies", fmt.Errorf("parsing reply timestamp: %w", err))
			}
			out = append(out, &r)
		}
		return out, storageErr("list_replies", rows.Err())
	})
}
