package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"filmdex/internal/cache"
)

// RecentMode selects the timestamp the recent-window filter compares
// against.
type RecentMode int

const (
	// RecentByAired windows on when a film aired.
	RecentByAired RecentMode = 0
	// RecentByCreated windows on when a film entered the catalog.
	RecentByCreated RecentMode = 1
)

// Filter carries user-facing query limits. The zero value means
// unfiltered and unlimited.
type Filter struct {
	MaxResults int
	NoFuture   bool
	MinLength  int   // seconds
	MaxAge     int64 // seconds, recent-window size
	RecentMode RecentMode
	GroupShows bool
}

// Channel is a broadcaster with its film count.
type Channel struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Initial is an A-Z bucket of shows.
type Initial struct {
	Letter string `json:"letter"`
	Count  int    `json:"count"`
}

// Show is a series grouping. When shows are grouped across channels,
// ID and ChannelName are comma-joined lists.
type Show struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
}

// Film is one playable catalog entry.
type Film struct {
	ID          string `json:"id"`
	Channel     string `json:"channel"`
	Show        string `json:"show"`
	Title       string `json:"title"`
	Aired       int64  `json:"aired"`
	Duration    int    `json:"duration"`
	SizeMiB     int    `json:"size"`
	Description string `json:"description"`
	Website     string `json:"website"`
	URLSub      string `json:"url_sub"`
	URLVideo    string `json:"url_video"`
	URLVideoSD  string `json:"url_video_sd"`
	URLVideoHD  string `json:"url_video_hd"`
}

const filmColumns = `idhash, channel, showname, title,
	aired, duration, size, description, website,
	url_sub, url_video, url_video_sd, url_video_hd`

// Query is the read side of the catalog. It is backend-agnostic and
// optionally memoizes results through a generation-checked cache; a
// nil cache disables memoization.
type Query struct {
	backend Backend
	cache   cache.Cache
	filter  Filter
	logger  *log.Logger
}

// NewQuery wraps a backend. c may be nil.
func NewQuery(b Backend, c cache.Cache, f Filter, logger *log.Logger) *Query {
	if logger == nil {
		logger = log.New(os.Stderr, "[query] ", log.LstdFlags)
	}
	return &Query{backend: b, cache: c, filter: f, logger: logger}
}

// generation is the cache validity stamp: the status row's modified
// time, bumped by every committed pass.
func (q *Query) generation(ctx context.Context) int64 {
	st, err := q.backend.GetStatus(ctx)
	if err != nil {
		return 0
	}
	return st.Modified
}

// query runs a read statement, retrying once through Reconnect on a
// transient failure.
func (q *Query) query(ctx context.Context, stmt string, args ...any) (*sql.Rows, error) {
	rows, err := q.backend.DB().QueryContext(ctx, stmt, args...)
	if err == nil {
		return rows, nil
	}
	q.logger.Printf("read failed, reconnecting: %v", err)
	if rerr := q.backend.Reconnect(ctx); rerr != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", rerr)
	}
	rows, err = q.backend.DB().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// condNoFuture keeps films that already aired. Films with an unknown
// airing date are excluded too.
func (q *Query) condNoFuture(where *[]string, args *[]any) {
	if q.filter.NoFuture {
		*where = append(*where, "( aired < ? )")
		*args = append(*args, time.Now().Unix())
	}
}

func (q *Query) condMinLength(where *[]string, args *[]any) {
	if q.filter.MinLength > 0 {
		*where = append(*where, "( duration >= ? )")
		*args = append(*args, q.filter.MinLength)
	}
}

// condRecent windows on aired or dtCreated depending on RecentMode.
func (q *Query) condRecent(where *[]string, args *[]any) {
	maxAge := q.filter.MaxAge
	if maxAge <= 0 {
		maxAge = 86400
	}
	col := "aired"
	if q.filter.RecentMode == RecentByCreated {
		col = "dtCreated"
	}
	*where = append(*where, fmt.Sprintf("( %s >= ? )", col))
	*args = append(*args, time.Now().Unix()-maxAge)
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// cacheKey renders the statement and its arguments into the condition
// string, so any filter change is automatically a different entry.
// Arguments are quoted individually; concatenating them raw would let
// two different argument lists alias to one key.
func cacheKey(stmt string, args []any) string {
	var b strings.Builder
	b.WriteString(stmt)
	for _, a := range args {
		fmt.Fprintf(&b, "|%q", fmt.Sprint(a))
	}
	return b.String()
}

// Channels lists all broadcasters with film counts.
func (q *Query) Channels(ctx context.Context) ([]Channel, error) {
	stmt := `SELECT channel, COUNT(*) FROM film GROUP BY channel ORDER BY channel`
	var out []Channel
	hit, err := q.load(ctx, "channels", cacheKey(stmt, nil), &out)
	if err != nil || hit {
		return out, err
	}
	rows, err := q.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	q.store(ctx, "channels", cacheKey(stmt, nil), out)
	return out, nil
}

// RecentChannels lists broadcasters that received films inside the
// recent window.
func (q *Query) RecentChannels(ctx context.Context) ([]Channel, error) {
	var conds []string
	var args []any
	q.condRecent(&conds, &args)
	q.condNoFuture(&conds, &args)
	q.condMinLength(&conds, &args)
	stmt := `SELECT channel, COUNT(*) FROM film` + whereClause(conds) +
		` GROUP BY channel ORDER BY channel`
	var out []Channel
	hit, err := q.load(ctx, "recentchannels", cacheKey(stmt, args), &out)
	if err != nil || hit {
		return out, err
	}
	rows, err := q.query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list recent channels: %w", err)
	}
	q.store(ctx, "recentchannels", cacheKey(stmt, args), out)
	return out, nil
}

// Initials buckets films into A-Z groups by the first letter of their
// show name. An empty channel spans the whole catalog.
func (q *Query) Initials(ctx context.Context, channel string) ([]Initial, error) {
	var conds []string
	var args []any
	if channel != "" {
		conds = append(conds, "( channel = ? )")
		args = append(args, channel)
	}
	conds = append(conds, "( SUBSTR(UPPER(showname), 1, 1) BETWEEN 'A' AND 'Z' )")
	q.condNoFuture(&conds, &args)
	q.condMinLength(&conds, &args)
	stmt := `SELECT UPPER(SUBSTR(showname, 1, 1)), COUNT(*) FROM film` +
		whereClause(conds) + ` GROUP BY UPPER(SUBSTR(showname, 1, 1)) ORDER BY UPPER(SUBSTR(showname, 1, 1))`
	var out []Initial
	hit, err := q.load(ctx, "initials", cacheKey(stmt, args), &out)
	if err != nil || hit {
		return out, err
	}
	rows, err := q.query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var i Initial
		if err := rows.Scan(&i.Letter, &i.Count); err != nil {
			return nil, fmt.Errorf("failed to scan initial: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list initials: %w", err)
	}
	q.store(ctx, "initials", cacheKey(stmt, args), out)
	return out, nil
}

// Shows lists shows, optionally restricted to one channel and/or a
// show-name prefix. With GroupShows set and no channel, a show airing
// on several channels collapses into one row with comma-joined ids.
func (q *Query) Shows(ctx context.Context, channel, prefix string) ([]Show, error) {
	var conds []string
	var args []any
	if channel != "" {
		conds = append(conds, "( channel = ? )")
		args = append(args, channel)
	}
	if prefix != "" {
		conds = append(conds, "( showname LIKE ? )")
		args = append(args, prefix+"%")
	}
	q.condNoFuture(&conds, &args)
	q.condMinLength(&conds, &args)
	var stmt string
	if q.filter.GroupShows && channel == "" {
		stmt = `SELECT GROUP_CONCAT(DISTINCT showid), GROUP_CONCAT(DISTINCT channel), showname, COUNT(*)
	FROM film` + whereClause(conds) + ` GROUP BY showname ORDER BY showname`
	} else {
		stmt = `SELECT showid, channel, showname, COUNT(*)
	FROM film` + whereClause(conds) + ` GROUP BY showid, channel ORDER BY showname`
	}
	var out []Show
	hit, err := q.load(ctx, "shows", cacheKey(stmt, args), &out)
	if err != nil || hit {
		return out, err
	}
	rows, err := q.query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Show
		if err := rows.Scan(&s.ID, &s.Channel, &s.Name, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan show: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list shows: %w", err)
	}
	q.store(ctx, "shows", cacheKey(stmt, args), out)
	return out, nil
}

// Films lists the films of one or more shows, newest first. The second
// return value reports result truncation at MaxResults.
func (q *Query) Films(ctx context.Context, showIDs []string) ([]Film, bool, error) {
	if len(showIDs) == 0 {
		return nil, false, nil
	}
	conds := []string{"( showid IN (" + placeholders(len(showIDs)) + ") )"}
	args := make([]any, 0, len(showIDs)+2)
	for _, id := range showIDs {
		args = append(args, id)
	}
	q.condNoFuture(&conds, &args)
	q.condMinLength(&conds, &args)
	stmt := `SELECT ` + filmColumns + ` FROM film` + whereClause(conds) +
		` ORDER BY aired DESC` + q.limitClause()
	return q.films(ctx, "films", stmt, args)
}

// Recents lists films inside the recent window, newest first. An empty
// channel spans the whole catalog.
func (q *Query) Recents(ctx context.Context, channel string) ([]Film, bool, error) {
	var conds []string
	var args []any
	if channel != "" {
		conds = append(conds, "( channel = ? )")
		args = append(args, channel)
	}
	q.condRecent(&conds, &args)
	q.condNoFuture(&conds, &args)
	q.condMinLength(&conds, &args)
	stmt := `SELECT ` + filmColumns + ` FROM film` + whereClause(conds) +
		` ORDER BY aired DESC` + q.limitClause()
	return q.films(ctx, "recents", stmt, args)
}

// Search matches titles and show names; extended search additionally
// matches descriptions. Matching is case-insensitive.
func (q *Query) Search(ctx context.Context, term string, extended bool) ([]Film, bool, error) {
	if term == "" {
		return nil, false, nil
	}
	like := "%" + term + "%"
	match := `( ( title LIKE ? ) OR ( showname LIKE ? ) )`
	args := []any{like, like}
	if extended {
		match = `( ( title LIKE ? ) OR ( showname LIKE ? ) OR ( description LIKE ? ) )`
		args = append(args, like)
	}
	conds := []string{match}
	q.condNoFuture(&conds, &args)
	q.condMinLength(&conds, &args)
	stmt := `SELECT ` + filmColumns + ` FROM film` + whereClause(conds) +
		` ORDER BY aired DESC` + q.limitClause()
	return q.films(ctx, "search", stmt, args)
}

// LiveStreams lists the pseudo-show of live channel streams. Duration
// and airing filters do not apply to streams.
func (q *Query) LiveStreams(ctx context.Context) ([]Film, bool, error) {
	stmt := `SELECT ` + filmColumns + ` FROM film WHERE ( showname = 'LIVESTREAM' ) ORDER BY title`
	return q.films(ctx, "livestreams", stmt, nil)
}

// FilmInfo fetches a single film by identity. It bypasses the cache.
func (q *Query) FilmInfo(ctx context.Context, idhash string) (Film, error) {
	stmt := `SELECT ` + filmColumns + ` FROM film WHERE idhash = ?`
	rows, err := q.query(ctx, stmt, idhash)
	if err != nil {
		return Film{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Film{}, fmt.Errorf("failed to read film: %w", err)
		}
		return Film{}, sql.ErrNoRows
	}
	f, err := scanFilm(rows)
	if err != nil {
		return Film{}, err
	}
	return f, nil
}

// filmResult is the cached shape of a film listing.
type filmResult struct {
	Films     []Film `json:"films"`
	Truncated bool   `json:"truncated"`
}

func (q *Query) films(ctx context.Context, kind, stmt string, args []any) ([]Film, bool, error) {
	var res filmResult
	hit, err := q.load(ctx, kind, cacheKey(stmt, args), &res)
	if err != nil {
		return nil, false, err
	}
	if hit {
		return res.Films, res.Truncated, nil
	}
	rows, err := q.query(ctx, stmt, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		f, err := scanFilm(rows)
		if err != nil {
			return nil, false, err
		}
		res.Films = append(res.Films, f)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to list films: %w", err)
	}
	// the statement overfetches one row past MaxResults
	if q.filter.MaxResults > 0 && len(res.Films) > q.filter.MaxResults {
		res.Films = res.Films[:q.filter.MaxResults]
		res.Truncated = true
	}
	q.store(ctx, kind, cacheKey(stmt, args), res)
	return res.Films, res.Truncated, nil
}

func scanFilm(rows *sql.Rows) (Film, error) {
	var f Film
	var aired, duration, size sql.NullInt64
	var desc, website, urlSub, urlSD, urlHD sql.NullString
	err := rows.Scan(&f.ID, &f.Channel, &f.Show, &f.Title,
		&aired, &duration, &size, &desc, &website,
		&urlSub, &f.URLVideo, &urlSD, &urlHD)
	if err != nil {
		return Film{}, fmt.Errorf("failed to scan film: %w", err)
	}
	f.Aired = aired.Int64
	f.Duration = int(duration.Int64)
	f.SizeMiB = int(size.Int64)
	f.Description = desc.String
	f.Website = website.String
	f.URLSub = urlSub.String
	f.URLVideoSD = urlSD.String
	f.URLVideoHD = urlHD.String
	return f, nil
}

func (q *Query) limitClause() string {
	if q.filter.MaxResults <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", q.filter.MaxResults+1)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (q *Query) load(ctx context.Context, kind, cond string, v any) (bool, error) {
	if q.cache == nil {
		return false, nil
	}
	hit, err := q.cache.Load(kind, cond, q.generation(ctx), v)
	if err != nil {
		q.logger.Printf("cache read failed: %v", err)
		return false, nil
	}
	return hit, nil
}

func (q *Query) store(ctx context.Context, kind, cond string, v any) {
	if q.cache == nil {
		return
	}
	if err := q.cache.Save(kind, cond, q.generation(ctx), v); err != nil {
		q.logger.Printf("cache write failed: %v", err)
	}
}
