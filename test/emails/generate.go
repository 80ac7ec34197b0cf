package emails

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
)

// generate n_hashes of length HashLen and prefix them with Prefix
//
// example:
//  e:0e1f461bbefa6e07cc2ef06b9ee1ed25101e24d4345af266ed2f5a58bcd26c5e
//  e:59245d7c68b28404e068b15cba430082549b845ab412c4c3b31fb8632fd794e1
//  e:8d4acbaaec5a4b00465fa6db04deeb7de8722ef2893a3c22096fafe060686c38
//
// hashes are random blobs of length HashLen expressed in hex and prefixed with a string

const (
	Prefix  = "e:"
	HashLen = 32
)

// Common generates the common segment
func Common(n int) (common []byte) {
	common = make([]byte, n*HashLen)
	if _, err := rand.Read(common); err != nil {
		log.Fatalf("could not generate %d hashes for the common portion", n)
	}
	return
}

// Mix in from common and add n new fresh matchables.
// Every matchable ends with \r\n.
func Mix(common []byte, n int) <-chan []byte {
	// setup the streams
	c1 := commons(common)
	c2 := freshes(n)
	return mixes(c1, c2)
}

// Strings returns the matchables of common followed by
// n fresh ones, without line endings
func Strings(common []byte, n int) []string {
	out := make([]string, 0, len(common)/HashLen+n)
	for b := range commons(common) {
		out = append(out, string(prefix(b)))
	}
	for b := range freshes(n) {
		out = append(out, string(prefix(b)))
	}
	return out
}

// commons will write HashLen chunks from b to a channel and then close it
func commons(b []byte) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for i := 0; i < len(b)/HashLen; i++ {
			hash := b[i*HashLen : i*HashLen+HashLen]
			out <- hash
		}
	}()
	return out
}

// freshes will write a total number of fresh hashes to a channel and then close it
func freshes(total int) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for i := 0; i < total; i++ {
			b := make([]byte, HashLen)
			if _, err := rand.Read(b); err == nil {
				out <- b
			}
		}
	}()
	return out
}

// Prefix a byte value with the local preset prefix
func prefix(value []byte) []byte {
	// make final string
	out := make([]byte, len(Prefix)+hex.EncodedLen(len(value)))
	// copy the prefix first and then the
	// hex string
	copy(out, Prefix)
	hex.Encode(out[len(Prefix):], value)
	return out
}

// mixes will read c1 & c2 to exhaustion, add the prefix and \r\n,
// write the output a channel and then close it
func mixes(c1, c2 <-chan []byte) <-chan []byte {
	var ws sync.WaitGroup
	out := make(chan []byte)
	// fixed to 2 here because this is the pattern
	ws.Add(2)
	// exhaust a channel
	f := func(c <-chan []byte) {
		defer ws.Done()
		for b := range c {
			out <- append(prefix(b), "\r\n"...)
		}
	}
	// fan in c1 & c2
	go f(c1)
	go f(c2)
	// and wait so we can close the out channel
	go func() {
		ws.Wait()
		close(out)
	}()

	return out
}
