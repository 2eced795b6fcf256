package broker

import (
	"bytes"
	"strings"

	"github.com/maxpert/amqp-go-client/protocol"
)

// routeLocked returns the names of the queues a message reaches from ex,
// following exchange-to-exchange bindings. Each queue appears once.
func (b *Broker) routeLocked(ex *Exchange, key string, headers protocol.Table, visited map[string]bool) []string {
	if visited[ex.Name] {
		return nil
	}
	visited[ex.Name] = true

	// The default exchange routes by queue name.
	if ex.Name == "" {
		if _, ok := b.queues[key]; ok {
			return []string{key}
		}
		return nil
	}

	var queues []string
	seen := make(map[string]bool)
	for _, bd := range b.bindings {
		if bd.Source != ex.Name || !bindingMatches(ex.Kind, bd, key, headers) {
			continue
		}
		if bd.ToExchange {
			dest, ok := b.exchanges[bd.Destination]
			if !ok {
				continue
			}
			for _, q := range b.routeLocked(dest, key, headers, visited) {
				if !seen[q] {
					seen[q] = true
					queues = append(queues, q)
				}
			}
			continue
		}
		if _, ok := b.queues[bd.Destination]; ok && !seen[bd.Destination] {
			seen[bd.Destination] = true
			queues = append(queues, bd.Destination)
		}
	}
	return queues
}

func bindingMatches(kind string, bd *Binding, key string, headers protocol.Table) bool {
	switch kind {
	case KindDirect:
		return bd.RoutingKey == key
	case KindFanout:
		return true
	case KindTopic:
		return topicMatches(bd.RoutingKey, key)
	case KindHeaders:
		return headersMatch(bd.Arguments, headers)
	default:
		return false
	}
}

// topicMatches checks if a routing key matches a topic pattern
func topicMatches(pattern, routingKey string) bool {
	return doMatch(splitTopic(pattern), 0, splitTopic(routingKey), 0)
}

func splitTopic(topic string) []string {
	if topic == "" {
		return nil
	}
	return strings.Split(topic, ".")
}

// doMatch is a recursive helper for topic matching
func doMatch(pattern []string, pIdx int, key []string, kIdx int) bool {
	if pIdx == len(pattern) {
		return kIdx == len(key)
	}

	switch pattern[pIdx] {
	case "#":
		// zero words, or one more word and stay on #
		if doMatch(pattern, pIdx+1, key, kIdx) {
			return true
		}
		return kIdx < len(key) && doMatch(pattern, pIdx, key, kIdx+1)
	case "*":
		return kIdx < len(key) && doMatch(pattern, pIdx+1, key, kIdx+1)
	default:
		return kIdx < len(key) && pattern[pIdx] == key[kIdx] && doMatch(pattern, pIdx+1, key, kIdx+1)
	}
}

// headersMatch checks message headers against binding arguments. x-match
// "any" needs one matching pair, anything else needs all of them. Keys
// starting with "x-" are not compared.
func headersMatch(bindingArgs, msgHeaders protocol.Table) bool {
	matchAny := false
	if mode, ok := bindingArgs["x-match"].(string); ok && mode == "any" {
		matchAny = true
	}

	compared := 0
	for key, want := range bindingArgs {
		if strings.HasPrefix(key, "x-") {
			continue
		}
		compared++
		got, exists := msgHeaders[key]
		matched := exists && (want == nil || fieldEqual(want, got))
		if matchAny && matched {
			return true
		}
		if !matchAny && !matched {
			return false
		}
	}
	return !matchAny || compared == 0
}

// fieldEqual compares field table values, treating integers of different
// widths as equal when their values are.
func fieldEqual(a, b interface{}) bool {
	if ai, ok := asInt(a); ok {
		bi, ok := asInt(b)
		return ok && ai == bi
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case protocol.Table:
		bv, ok := b.(protocol.Table)
		return ok && tablesEqual(av, bv)
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		return ok && tablesEqual(av, bv)
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !fieldEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func tablesEqual(a, b protocol.Table) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !fieldEqual(v, w) {
			return false
		}
	}
	return true
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
