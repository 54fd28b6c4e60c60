// Package catalog defines the priced record model and the bucketed CSV
// loader that feeds the presorted index.
//
// A Record is immutable after load: identity (ID, Name, Value, URL, Bucket)
// never changes. Allocation state (Unused/Reserved/Used) is NOT part of the
// record - it lives in the allocation store, which is the only component
// allowed to mutate anything about a record's lifecycle.
//
// Buckets partition the catalog by value range. The source files follow the
// less_than_<B>.csv naming convention: bucket B holds records whose value is
// strictly below B, down to the previous multiple of the granularity. A
// record belongs to exactly one bucket, determined at load time.
//
// Values are exact decimals (shopspring/decimal), rounded to two places at
// load. Floating point never touches a record value.
package catalog
