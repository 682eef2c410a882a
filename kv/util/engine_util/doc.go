package engine_util

/*
An engine is a low-level system for storing key/value pairs locally (without distribution or any transaction support,
etc.). This package contains code for interacting with such engines.

Every engine keeps its keys in byte order and gives iterators a consistent snapshot, which is all the partition layer
above needs to lay versioned cells out as memcomparable keys.

engine_util includes the following parts:

* engines: the Engine interface and the factory that opens the configured engine.
* badger, leveldb, memory: the three Engine implementations.
* write_batch: code to batch writes into a single, atomic 'transaction'.
*/
