// Package config provides configuration parsing and validation for concord.
//
// # Overview
//
// Configuration is read from a YAML file. Every key is optional; missing
// keys keep the values of DefaultConfig. The file may reference
// environment variables:
//
//	node:
//	  id: ${CONCORD_NODE_ID}
//	  raftAddr: ${CONCORD_RAFT_ADDR:-0.0.0.0:4445}
//
// ${VAR} is replaced by the variable's value (empty when unset) and
// ${VAR:-default} falls back to default when the variable is unset or empty.
//
// # Example
//
//	node:
//	  id: 1
//	  raftAddr: 10.0.0.1:4445
//	cluster:
//	  peers:
//	    - id: 2
//	      addr: 10.0.0.2:4445
//	    - id: 3
//	      addr: 10.0.0.3:4445
//	      nonVoting: true
//	raft:
//	  heartbeatInterval: 100ms
//	  electionTimeoutFactor: 10
//	  snapshotChunkSize: 480KB
//	storage:
//	  dataDir: /var/lib/concord
//	logging:
//	  level: info
//	  format: json
//	http:
//	  address: :8080
//
// # Validation
//
// ValidateConfig returns every problem it finds as a ValidationError naming
// the offending field:
//
//	cfg, err := config.LoadConfig("/etc/concord/config.yaml")
//	if err != nil {
//	    return err
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    for _, e := range errs {
//	        fmt.Fprintln(os.Stderr, e)
//	    }
//	}
package config
