package identifier

// reservedWords enumerates names that must never be accepted as table, column
// or function identifiers: PostgreSQL built-in type names, the reserved
// keywords from the PostgreSQL SQL Key Words appendix, and the reserved column
// keywords of SQL:2023/2016/92. TIMESTAMP is intentionally absent — the event
// store uses it as a column name.
var reservedWords = []string{
	// PostgreSQL data types
	"BIGINT", "BIGSERIAL", "BIT", "BOOL", "BOOLEAN", "BOX", "BYTEA",
	"CHAR", "CHARACTER", "CIDR", "CIRCLE", "DATE", "DECIMAL", "DOUBLE",
	"FLOAT4", "FLOAT8", "INET", "INT", "INT2", "INT4", "INT8", "INTEGER",
	"INTERVAL", "JSON", "JSONB", "LINE", "LSEG", "MACADDR", "MACADDR8",
	"MONEY", "NUMERIC", "PATH", "PG_LSN", "PG_SNAPSHOT", "POINT", "POLYGON",
	"REAL", "SERIAL", "SERIAL2", "SERIAL4", "SERIAL8", "SMALLINT",
	"SMALLSERIAL", "TEXT", "TIME", "TIMETZ", "TIMESTAMPTZ", "TSQUERY",
	"TSVECTOR", "TXID_SNAPSHOT", "UUID", "VARBIT", "VARCHAR", "XML",

	// PostgreSQL reserved keywords
	"ALL", "ANALYSE", "ANALYZE", "AND", "ANY", "ARRAY", "AS", "ASC",
	"ASYMMETRIC", "AUTHORIZATION", "BINARY", "BOTH", "CASE", "CAST",
	"CHECK", "COLLATE", "COLLATION", "COLUMN", "CONCURRENTLY",
	"CONSTRAINT", "CREATE", "CROSS", "CURRENT_CATALOG", "CURRENT_DATE",
	"CURRENT_ROLE", "CURRENT_SCHEMA", "CURRENT_TIME", "CURRENT_TIMESTAMP",
	"CURRENT_USER", "DEFAULT", "DEFERRABLE", "DESC", "DISTINCT", "DO",
	"ELSE", "END", "EXCEPT", "FALSE", "FETCH", "FOR", "FOREIGN", "FREEZE",
	"FROM", "FULL", "GRANT", "GROUP", "HAVING", "ILIKE", "IN", "INITIALLY",
	"INNER", "INTERSECT", "INTO", "IS", "ISNULL", "JOIN", "LATERAL",
	"LEADING", "LEFT", "LIKE", "LIMIT", "LOCALTIME", "LOCALTIMESTAMP",
	"NATURAL", "NOT", "NOTNULL", "NULL", "OFFSET", "ON", "ONLY", "OR",
	"ORDER", "OUTER", "OVERLAPS", "PLACING", "PRIMARY", "REFERENCES",
	"RETURNING", "RIGHT", "SELECT", "SESSION_USER", "SIMILAR", "SOME",
	"SYMMETRIC", "SYSTEM_USER", "TABLE", "TABLESAMPLE", "THEN", "TO",
	"TRAILING", "TRUE", "UNION", "UNIQUE", "USER", "USING", "VARIADIC",
	"VERBOSE", "WHEN", "WHERE", "WINDOW", "WITH",

	// SQL:2023/2016/92 reserved column keywords not covered above
	"ABSOLUTE", "ACTION", "ADD", "ALTER", "BEGIN", "BETWEEN", "BY",
	"CALL", "CASCADE", "CLOSE", "COALESCE", "COMMIT", "CONNECT",
	"CONTINUE", "CONVERT", "CORRESPONDING", "CURSOR", "DEALLOCATE",
	"DECLARE", "DELETE", "DESCRIBE", "DISCONNECT", "DROP", "ESCAPE",
	"EXEC", "EXECUTE", "EXISTS", "EXTERNAL", "EXTRACT", "FIRST", "FOUND",
	"GET", "GLOBAL", "GO", "GOTO", "GROUPING", "IDENTITY", "INDICATOR",
	"INPUT", "INSENSITIVE", "INSERT", "KEY", "LANGUAGE", "LAST", "LEVEL",
	"LOCAL", "LOWER", "MATCH", "MERGE", "MODULE", "NAMES", "NATIONAL",
	"NCHAR", "NCLOB", "NEXT", "NO", "NULLIF", "OF", "OPEN", "OPTION",
	"OUTPUT", "OVER", "OVERLAY", "PARTITION", "POSITION", "PRECISION",
	"PREPARE", "PRESERVE", "PRIOR", "PRIVILEGES", "PROCEDURE", "PUBLIC",
	"RANGE", "READ", "RECURSIVE", "RELATIVE", "RELEASE", "RESTRICT",
	"REVOKE", "ROLLBACK", "ROLLUP", "ROW", "ROWS", "SAVEPOINT", "SCHEMA",
	"SCROLL", "SECTION", "SESSION", "SET", "SIZE", "SQL", "SQLCODE",
	"SQLERROR", "SQLSTATE", "SUBSTRING", "SYSTEM", "TEMPORARY",
	"TRANSACTION", "TRANSLATE", "TRANSLATION", "TRIGGER", "TRIM",
	"UNKNOWN", "UPDATE", "UPPER", "USAGE", "VALUE", "VALUES", "VIEW",
	"WORK", "WRITE", "ZONE",
}

// reserved is the hashed membership set; lookups are hot.
var reserved = func() map[string]struct{} {
	m := make(map[string]struct{}, len(reservedWords))
	for _, w := range reservedWords {
		m[w] = struct{}{}
	}
	return m
}()
