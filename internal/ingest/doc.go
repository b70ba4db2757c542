// Package ingest implements the offline ingestion batch: loading raw
// documents from a source tree (text, markdown, HTML, PDF), inferring
// department and clearance metadata from path heuristics, splitting each
// document into overlapping chunks, embedding them, and handing the complete
// dataset to the store as one atomic insert.
package ingest
