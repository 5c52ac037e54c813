// Package core defines the domain types shared by every part of the
// crawl engine: series, crawls, stages, targets, execution tokens and
// the task signatures that wire them to the dispatch layer.
//
// The types here are deliberately free of transport and storage
// concerns. They carry json tags for the wire format used between
// workers and bson tags for persistence, but all behaviour that talks
// to a broker or a database lives in the dispatch and storage packages.
package core
