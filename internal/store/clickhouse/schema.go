package clickhouse

const producerDataTable = `
CREATE TABLE IF NOT EXISTS producer_data (
    variable  LowCardinality(String),
    magnitude Float64,
    unit      LowCardinality(String),
    kind      Enum8('mean' = 1, 'max' = 2),
    ts        DateTime
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ts)
ORDER BY (variable, ts)
`

const inverterDataTable = `
CREATE TABLE IF NOT EXISTS inverter_data (
    serial_number Int64,
    metric        LowCardinality(String),
    mean          Float64,
    base          Int64,
    period        Int64,
    unit          LowCardinality(String),
    ts            DateTime
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ts)
ORDER BY (serial_number, metric, ts)
`

const ingestRunsTable = `
CREATE TABLE IF NOT EXISTS ingest_runs (
    started_at  DateTime,
    finished_at DateTime,
    fetched     UInt32,
    files       UInt32,
    documents   UInt32,
    skipped     UInt32,
    events      UInt32,
    published   UInt32,
    error       String
) ENGINE = MergeTree()
ORDER BY started_at
`

func allTables() []string {
	return []string{producerDataTable, inverterDataTable, ingestRunsTable}
}
