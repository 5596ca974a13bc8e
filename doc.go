// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ordinex is an event-sourced runtime that lets an LLM propose
// and apply code changes under a fixed set of safety rails: every
// mutating step is journaled to an append-only event log before it
// takes effect, every diff is validated against a declared edit scope
// and checked for staleness before it touches a file, every apply goes
// through a recoverable checkpoint, and every state-changing stage can
// require human approval before it proceeds.
//
// # Architecture Overview
//
// A mission (package mission) drives one instruction through a fixed
// stage sequence: retrieve context (package retrieval, excerpt),
// propose a diff (package llmedit), fence-check it (package fence),
// await approval (package approval), apply it (package applier,
// diffpatch, checkpoint), run tests, and on failure hand off to a
// bounded repair loop (package repair) before reaching a terminal
// stage. Every stage transition is an event (package eventbus); a
// crash recovers state by replaying that log (mission.Recover) rather
// than by keeping anything in memory.
//
// # Key Design Principles
//
//   - Event-sourced: the event log is the source of truth; in-memory
//     state is always reconstructable from it.
//   - Fail closed: ambiguous instructions, stale file content, and
//     out-of-scope writes are rejected rather than guessed at.
//   - Bounded autonomy: iteration counts, repair attempts, tool calls
//     and stage durations are all configured ceilings (package config),
//     never open-ended loops.
//   - Human in the loop: approval gates are a first-class stage, not a
//     bolt-on confirmation prompt.
package ordinex
