// Package contracts defines the broker wire contract shared by every stage:
// exchange and queue names, routing keys, JSON message schemas, encoding ids,
// and output containers.
//
// Classify is the only place that decides whether an encoding id is a full
// HLS rendition, a preview clip, or a thumbnail sheet. Stage code switches on
// the returned Kind instead of matching id strings.
package contracts
