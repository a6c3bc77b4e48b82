// Package ocr turns downloaded PDF documents into plain text.
//
// Large scans are never rasterized whole. The extractor optimizes the
// source file, splits it into single-page PDFs, and pulls the embedded
// page images out one page at a time, so memory use stays bounded by
// the largest single page rather than the document.
//
// Text recognition itself sits behind the Recognizer interface. The
// production implementation lives in ocr/tesseract; ocr/mock provides a
// test double.
package ocr
