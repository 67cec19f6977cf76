package drive

// Schema DDL for the drive store.
const (
	createDrives = `CREATE TABLE IF NOT EXISTS drives (
    host TEXT PRIMARY KEY,
    writable INTEGER NOT NULL,
    created_at TEXT NOT NULL
);`

	createFiles = `CREATE TABLE IF NOT EXISTS files (
    host TEXT NOT NULL,
    path TEXT NOT NULL,
    content BLOB NOT NULL,
    metadata TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (host, path),
    FOREIGN KEY (host) REFERENCES drives(host) ON DELETE CASCADE
);`

	idxFilesHost = `CREATE INDEX IF NOT EXISTS idx_files_host ON files(host);`
)

// schemaDDL lists all statements in dependency order.
var schemaDDL = []string{
	createDrives,
	createFiles,
	idxFilesHost,
}
