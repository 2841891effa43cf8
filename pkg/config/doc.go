/*
Package config loads the cadence YAML configuration.

Load reads a file on top of Default and validates it; every validation
failure wraps ErrInvalid. Durations are Go duration strings and worker memory
is a number or "auto", which sizes the worker to the memory available on this
machine:

	logging:
	  level: info
	metrics:
	  addr: 127.0.0.1:9090
	storage:
	  data_dir: ./cadence-data
	scheduler:
	  step_buffer: 20ms
	  jitter: 64ms
	workers:
	  - name: home
	    memory: auto
	    cores: 4
	    primary: true
	targets:
	  - name: joesguns
	    max_money: 2500000
	    money: 2500000
	    min_security: 5
	    security: 5
	    growth: 20
	    required_skill: 10
	    budget: 1
*/
package config
