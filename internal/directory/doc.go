// Package directory reconciles the running stations against the remote
// roster.
//
// A Source turns the roster into an ordered stream of ADDED, MODIFIED
// and REMOVED events. Directory applies them one at a time: ADDED builds
// and starts an instance, MODIFIED stops the current instance for that ID
// (its Stop returns only after the worker has exited) and then starts a
// fresh one, REMOVED only stops. Two instances for one ID are never
// running together.
//
// Sources:
//   - MQTTSource: retained JSON documents under
//     transponder/hosts/{host}/mailboxes/{id}; an empty payload removes.
//   - StaticSource: the mailboxes list from the config file.
package directory
