package parsers

// Preset parsers for AWS access logs.
var (
	// ELB parses Classic Load Balancer access logs.
	ELB = mustRegex(RegexConfig{
		Pattern:        `^(?P<timestamp>[^ ]*) (?P<elb>[^ ]*) (?P<client_ip>[^ ]*):(?P<client_port>[0-9]*) ((?P<backend_ip>[^ ]+)[:-](?P<backend_port>[0-9]+)|-) (?P<request_processing_time>[-.0-9]*) (?P<backend_processing_time>[-.0-9]*) (?P<response_processing_time>[-.0-9]*) (?P<elb_status_code>|[-0-9]*) (?P<backend_status_code>-|[-0-9]*) (?P<received_bytes>[-0-9]*) (?P<sent_bytes>[-0-9]*) "(?P<request_verb>[^ ]*) (?P<request_url>[^ ]*) (?P<request_proto>- |[^ ]*)" "(?P<user_agent>[^"]*)" (?P<ssl_cipher>[A-Z0-9-]+) (?P<ssl_protocol>[A-Za-z0-9.-]*)`,
		TimestampField: "timestamp",
		Kinds: map[string]string{
			"timestamp":                "timeISO8601",
			"client_port":              "uint16",
			"backend_port":             "uint16",
			"request_processing_time":  "float64",
			"backend_processing_time":  "float64",
			"response_processing_time": "float64",
			"request_url":              "urlencoded",
			"received_bytes":           "int64",
			"sent_bytes":               "int64",
			"elb_status_code":          "int16",
			"backend_status_code":      "int16",
		},
		EmptyValues: map[string]string{
			"user_agent":               "-",
			"ssl_cipher":               "-",
			"ssl_protocol":             "-",
			"elb_status_code":          "-",
			"request_processing_time":  "-1",
			"backend_processing_time":  "-1",
			"response_processing_time": "-1",
			"backend_status_code":      "-",
		},
	})

	// ALB parses Application Load Balancer access logs.
	ALB = mustRegex(RegexConfig{
		Pattern:        `^(?P<type>[^ ]*) (?P<timestamp>[^ ]*) (?P<elb>[^ ]*) (?P<client_ip>[^ ]*):(?P<client_port>[0-9]*) ((?P<target_ip>[^ ]+)[:-](?P<target_port>[0-9]+)|-) (?P<request_processing_time>[-.0-9]*) (?P<target_processing_time>[-.0-9]*) (?P<response_processing_time>[-.0-9]*) (?P<elb_status_code>|[-0-9]*) (?P<target_status_code>-|[-0-9]*) (?P<received_bytes>[-0-9]*) (?P<sent_bytes>[-0-9]*) "(?P<request_verb>[^ ]*) (?P<request_url>[^ ]*) (?P<request_proto>- |[^ ]*)" "(?P<user_agent>[^"]*)" (?P<ssl_cipher>[A-Z0-9-]+) (?P<ssl_protocol>[A-Za-z0-9.-]*) (?P<target_group_arn>[^ ]*) "(?P<trace_id>[^"]*)"`,
		TimestampField: "timestamp",
		Kinds: map[string]string{
			"timestamp":                "timeISO8601",
			"client_port":              "uint16",
			"target_port":              "uint16",
			"request_processing_time":  "float64",
			"target_processing_time":   "float64",
			"response_processing_time": "float64",
			"request_url":              "urlencoded",
			"received_bytes":           "int64",
			"sent_bytes":               "int64",
			"elb_status_code":          "int16",
			"target_status_code":       "int16",
		},
		EmptyValues: map[string]string{
			"user_agent":               "-",
			"ssl_cipher":               "-",
			"ssl_protocol":             "-",
			"request_processing_time":  "-1",
			"target_processing_time":   "-1",
			"response_processing_time": "-1",
			"target_status_code":       "-",
		},
	})

	// CloudFront parses CloudFront web distribution access logs.
	CloudFront = mustRegex(RegexConfig{
		Pattern:        `^(?P<timestamp>[^\t]*\t[^\t]*)\t(?P<x_edge_location>[^\t]*)\t(?P<sc_bytes>[^\t]*)\t(?P<c_ip>[^\t]*)\t(?P<cs_method>[^\t]*)\t(?P<cs_host>[^\t]*)\t(?P<cs_uri_stem>[^\t]*)\t(?P<sc_status>[^\t]*)\t(?P<cs_referer>[^\t]*)\t(?P<cs_user_agent>[^\t]*)\t(?P<cs_uri_query>[^\t]*)\t(?P<cs_cookie>[^\t]*)\t(?P<x_edge_result_type>[^\t]*)\t(?P<x_edge_request_id>[^\t]*)\t(?P<x_host_header>[^\t]*)\t(?P<cs_protocol>[^\t]*)\t(?P<cs_bytes>[^\t]*)\t(?P<time_taken>[^\t]*)\t(?P<x_forwarded_for>[^\t]*)\t(?P<ssl_protocol>[^\t]*)\t(?P<ssl_cipher>[^\t]*)\t(?P<x_edge_response_result_type>[^\t]*)\t(?P<cs_protocol_version>[^\t]*)\t(?P<fle_status>[^\t]*)\t(?P<fle_encrypted_fields>[^\s]*)`,
		TimestampField: "timestamp",
		Kinds: map[string]string{
			"timestamp":       "time:2006-01-02\t15:04:05",
			"x_edge_location": "deepurlencoded",
			"cs_bytes":        "uint64",
			"sc_bytes":        "uint64",
			"cs_host":         "deepurlencoded",
			"cs_uri_stem":     "deepurlencoded",
			"sc_status":       "int16",
			"cs_referer":      "deepurlencoded",
			"cs_user_agent":   "deepurlencoded",
			"cs_uri_query":    "deepurlencoded",
			"cs_cookie":       "deepurlencoded",
			"time_taken":      "float64",
		},
		EmptyValues: map[string]string{
			"cs_uri_query":         "-",
			"cs_bytes":             "-",
			"x_forwarded_for":      "-",
			"ssl_protocol":         "-",
			"ssl_cipher":           "-",
			"fle_status":           "-",
			"fle_encrypted_fields": "-",
		},
		Ignore: `^#`,
	})

	// WAF parses AWS WAF logs, one JSON document per line with a
	// millisecond epoch timestamp.
	WAF = NewJSON("timestamp", mustKind("timeUnixMilliseconds"))
)
