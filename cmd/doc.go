// Package cmd contains the command-line interface of Pi Manager.
// The root command resolves the flags, assembles the services and runs them until a signal arrives.
//
// Key components:
//   - rootCmd: Root command running the scheduler, device monitor and HTTP API.
//   - app: Assembled services of one process, including crash reporting.
//
// Usage examples:
//   - Run the CLI from main.go:
//     cmd.Execute()
//   - Run a single update check and exit:
//     pi-manager --app-dir /opt/app --run-once
package cmd
