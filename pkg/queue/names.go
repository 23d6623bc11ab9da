package queue

import (
	"strings"
)

const (
	PrivatePrefix    = `.\private$\`
	DeadLetterSuffix = "DeadLetter"
	PoisonSuffix     = ";poison"

	SubjectPrefix = "svchost.queue."
)

// Triple is the set of queues a queued contract depends on.
type Triple struct {
	Primary    string
	DeadLetter string
	Poison     string
}

// Names derives the queue triple for a contract short name.
func Names(contractName string) Triple {
	primary := PrivatePrefix + contractName
	return Triple{
		Primary:    primary,
		DeadLetter: primary + DeadLetterSuffix,
		Poison:     primary + PoisonSuffix,
	}
}

func (t Triple) All() []string {
	return []string{t.Primary, t.DeadLetter, t.Poison}
}

// streamEscaper maps the characters brokers reject onto '_' sequences. '_'
// itself is doubled so that distinct queue names never share a stream.
var streamEscaper = strings.NewReplacer(
	"_", "__",
	";", "_S",
	".", "_D",
	" ", "_W",
	`\`, "_B",
	"$", "_X",
	"*", "_A",
	">", "_G",
)

// StreamName maps a queue name onto a name a broker accepts: the private
// prefix is dropped and the remaining characters are escaped.
func StreamName(queueName string) string {
	return streamEscaper.Replace(strings.TrimPrefix(queueName, PrivatePrefix))
}

// Subject is the broker subject messages for queueName are published on.
func Subject(queueName string) string {
	return SubjectPrefix + StreamName(queueName)
}
