// Package answer synthesizes responses from retrieved chunks using two
// interchangeable strategies: extractive (select and concatenate the most
// query-relevant sentences, no generation) and generative (grounded prompt
// to an external model, with mandatory fallback to extraction on any
// failure). The Engine type orchestrates the full online pipeline.
package answer
