package driver

// IndexQueries use Memgraph's index syntax.
var IndexQueries = []string{
	"CREATE INDEX ON :OntologyEntity(iri);",
	"CREATE INDEX ON :OntologyEntity(ontology);",
}

const (
	// MergeAlignmentQuery writes one batch of refined mappings. Edges are
	// keyed by run, so re-exporting a run overwrites its own edges only.
	MergeAlignmentQuery = `
		UNWIND $rows AS row
		MERGE (s:OntologyEntity {iri: row.source})
		ON CREATE SET s.ontology = $source_ontology
		MERGE (t:OntologyEntity {iri: row.target})
		ON CREATE SET t.ontology = $target_ontology
		MERGE (s)-[r:ALIGNED_WITH {run_id: $run_id}]->(t)
		SET r.relation = row.relation,
			r.decision = row.decision,
			r.provenance = row.provenance,
			r.confidence = row.confidence,
			r.engine_confidence = row.engine_confidence,
			r.verdict = row.verdict,
			r.task = $task,
			r.exported_at = $exported_at
		RETURN count(r) AS exported
	`

	GetAcceptedAlignmentQuery = `
		MATCH (s:OntologyEntity)-[r:ALIGNED_WITH {run_id: $run_id}]->(t:OntologyEntity)
		WHERE r.decision = "accepted"
		RETURN s.iri AS source, t.iri AS target, r.relation AS relation,
			r.confidence AS confidence, r.provenance AS provenance
		ORDER BY source, target
	`

	DeleteRunAlignmentQuery = `
		MATCH ()-[r:ALIGNED_WITH {run_id: $run_id}]->()
		DELETE r
	`
)
