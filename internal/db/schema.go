package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- EVIDENCE ITEM TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS evidence_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON evidence_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS summary ON evidence_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS description ON evidence_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS extracted_concepts ON evidence_item TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS source_type ON evidence_item TYPE string;
    DEFINE FIELD IF NOT EXISTS source_document_raw_id ON evidence_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS parliament_session ON evidence_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS linking_status ON evidence_item TYPE string DEFAULT "pending"
        ASSERT $value IN ["pending", "processed", "error"];
    DEFINE FIELD IF NOT EXISTS promise_ids ON evidence_item TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS linking_metadata ON evidence_item FLEXIBLE TYPE option<object>;
    DEFINE FIELD IF NOT EXISTS created ON evidence_item TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON evidence_item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS evidence_linking_status ON evidence_item FIELDS linking_status;
    DEFINE INDEX IF NOT EXISTS evidence_session ON evidence_item FIELDS parliament_session;
    DEFINE INDEX IF NOT EXISTS evidence_raw_id ON evidence_item FIELDS source_document_raw_id;

    -- ==========================================================================
    -- PROMISE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS promise SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS text ON promise TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON promise TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS background ON promise TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS concepts ON promise TYPE option<array<string>>;
    DEFINE FIELD IF NOT EXISTS parliament_session ON promise TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS fulfillment_score ON promise TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS evidence_count ON promise TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS scored_at ON promise TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created ON promise TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS promise_session ON promise FIELDS parliament_session;

    -- ==========================================================================
    -- JOB EXECUTION AUDIT LOG (append-only)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job_execution SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS run_id ON job_execution TYPE string;
    DEFINE FIELD IF NOT EXISTS stage ON job_execution TYPE string;
    DEFINE FIELD IF NOT EXISTS job_name ON job_execution TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job_execution TYPE string;
    DEFINE FIELD IF NOT EXISTS started_at ON job_execution TYPE datetime;
    DEFINE FIELD IF NOT EXISTS completed_at ON job_execution TYPE datetime;
    DEFINE FIELD IF NOT EXISTS duration_ms ON job_execution TYPE int;
    DEFINE FIELD IF NOT EXISTS processed ON job_execution TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created ON job_execution TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS updated ON job_execution TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS skipped ON job_execution TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS errors ON job_execution TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS message ON job_execution TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS metadata ON job_execution FLEXIBLE TYPE option<object>;

    DEFINE INDEX IF NOT EXISTS job_execution_job ON job_execution FIELDS stage, job_name;
    DEFINE INDEX IF NOT EXISTS job_execution_started ON job_execution FIELDS started_at;
`
