// Package core is the bulk import and identifier allocation engine of the
// LIMS backend.
//
// It turns uploaded CSV or Excel files into created or updated collaborators,
// projects, patients, specimens and inventory items, and hands out the
// sequential numbers those records are known by. It is independent of any
// transport: the HTTP server and the limsctl command both drive [Service].
//
// # Pipeline
//
//  1. [Decode] reads the file into a header row and data rows.
//  2. [ColumnMapper] maps headers onto canonical fields through each entity's
//     priority-ordered alias table.
//  3. [Validator] checks required fields, enums, dates and booleans, and
//     rewrites values into canonical form.
//  4. [ResolveReferences] links rows to the records they reference, and
//     [DuplicateResolver] classifies rows as new or existing by natural key.
//  5. [IdentifierService] allocates numbers for new rows (generate mode) or
//     checks and reserves the numbers supplied in the file (preserve mode).
//  6. [Orchestrator] writes batches in transactions, isolating each row in a
//     savepoint and reporting every outcome to an [ErrorTracker].
//
// # Entity Registry
//
// Entities are registered at init time using [Register] (see package
// core/tables). A [TableDefinition] declares fields, aliases, references and
// natural keys; stores build their SQL from it.
//
// # Failure Policy
//
// Row failures are recorded and the batch still commits. Critical failures
// (lost connection, failed allocation) roll back the current batch and stop
// the import. [EvaluateOutcome] turns an import that imported nothing or
// failed too often into an explicit error even though some rows committed.
//
// # Error Handling
//
// Every stage reports the tagged [Error] type. Technical errors are mapped to
// user-friendly messages with support codes by [MapError].
package core
