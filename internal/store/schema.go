package store

// Both backends speak the SQLite dialect, so the statement texts are
// shared here. Connection handling, recovery and tuning stay per
// backend.

// schemaDDL is executed statement by statement; not every driver
// accepts a multi-statement Exec.
var schemaDDL = []string{
	`DROP TABLE IF EXISTS "film"`,
	`CREATE TABLE "film" (
    "idhash" TEXT(32) NOT NULL PRIMARY KEY,
    "touched" INTEGER(1) NOT NULL DEFAULT 1,
    "dtCreated" INTEGER(11) NOT NULL DEFAULT 0,
    "channel" TEXT(64) NOT NULL,
    "showid" TEXT(32) NOT NULL,
    "showname" TEXT(128) NOT NULL,
    "search" TEXT(128) NOT NULL,
    "title" TEXT(128) NOT NULL,
    "aired" INTEGER(11),
    "duration" INTEGER(11),
    "size" INTEGER(11),
    "description" TEXT(2048),
    "website" TEXT(384),
    "url_sub" TEXT(384),
    "url_video" TEXT(384),
    "url_video_sd" TEXT(384),
    "url_video_hd" TEXT(384)
)`,
	`CREATE INDEX "idx_film_channel" ON film ("channel")`,
	`CREATE INDEX "idx_film_show" ON film ("showid")`,
	`CREATE INDEX "idx_film_search" ON film ("search")`,
	`CREATE INDEX "idx_film_aired" ON film ("aired")`,
	`CREATE INDEX "idx_film_created" ON film ("dtCreated")`,
	`DROP TABLE IF EXISTS "status"`,
	`CREATE TABLE "status" (
    "modified" INTEGER(11),
    "status" TEXT(32),
    "lastupdate" INTEGER(11),
    "filmupdate" INTEGER(11),
    "fullupdate" INTEGER(11),
    "add_chn" INTEGER(11),
    "add_shw" INTEGER(11),
    "add_mov" INTEGER(11),
    "del_chn" INTEGER(11),
    "del_shw" INTEGER(11),
    "del_mov" INTEGER(11),
    "tot_chn" INTEGER(11),
    "tot_shw" INTEGER(11),
    "tot_mov" INTEGER(11),
    "version" INTEGER(11)
)`,
}

const (
	stmtSanity = `SELECT status FROM status LIMIT 1`

	stmtSelectStatus = `
	SELECT modified, status, lastupdate, filmupdate, fullupdate,
	       add_chn, add_shw, add_mov,
	       del_chn, del_shw, del_mov,
	       tot_chn, tot_shw, tot_mov,
	       version
	FROM status LIMIT 1`

	stmtInsertStatus = `
	INSERT INTO status (
		modified, status, lastupdate, filmupdate, fullupdate,
		add_chn, add_shw, add_mov,
		del_chn, del_shw, del_mov,
		tot_chn, tot_shw, tot_mov,
		version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// partial write: nil parameters keep the stored value
	stmtUpdateStatus = `
	UPDATE status SET
		modified   = ?,
		status     = COALESCE(?, status),
		lastupdate = COALESCE(?, lastupdate),
		filmupdate = COALESCE(?, filmupdate),
		fullupdate = COALESCE(?, fullupdate),
		add_chn = COALESCE(?, add_chn),
		add_shw = COALESCE(?, add_shw),
		add_mov = COALESCE(?, add_mov),
		del_chn = COALESCE(?, del_chn),
		del_shw = COALESCE(?, del_shw),
		del_mov = COALESCE(?, del_mov),
		tot_chn = COALESCE(?, tot_chn),
		tot_shw = COALESCE(?, tot_shw),
		tot_mov = COALESCE(?, tot_mov),
		version = COALESCE(?, version)`

	// crash-recovery takeover: an UPDATING flag older than the
	// staleness window does not block
	stmtBeginUpdate = `
	UPDATE status SET modified = ?, status = 'UPDATING'
	WHERE ( status != 'UPDATING' ) OR ( modified < ? )`

	stmtResetTouched = `UPDATE film SET touched = 0`

	// attempt-update-then-insert: the touch also refreshes every
	// mutable field, so the latest ingested values persist
	stmtTouchFilm = `
	UPDATE film SET
		touched = touched + 1,
		showname = ?, search = ?, title = ?,
		aired = ?, duration = ?, size = ?,
		description = ?, website = ?, url_sub = ?,
		url_video_sd = ?, url_video_hd = ?
	WHERE idhash = ?`

	stmtInsertFilm = `
	INSERT INTO film (
		idhash, touched, dtCreated,
		channel, showid, showname, search, title,
		aired, duration, size, description, website,
		url_sub, url_video, url_video_sd, url_video_hd
	) VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmtCountUntouched  = `SELECT COUNT(*) FROM film WHERE touched = 0`
	stmtDeleteUntouched = `DELETE FROM film WHERE touched = 0`

	stmtTotals = `SELECT COUNT(DISTINCT channel), COUNT(DISTINCT showid), COUNT(*) FROM film`
)
