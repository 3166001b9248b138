package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/yungbote/phenoscope-backend/internal/cohort"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// bundlectl is an operator tool for cohort bundles: generate a synthetic
// bundle for load testing, validate a bundle file before upload, or list the
// bundles a bucket currently serves.

func main() {
	var (
		generate = flag.String("generate", "", "write a synthetic bundle for the given cohort id")
		validate = flag.String("validate", "", "decode a bundle file and print its summary")
		list     = flag.Bool("list", false, "list cohort bundles in the configured bucket")
		out      = flag.String("out", "", "output path for -generate")
		bucket   = flag.String("bucket", os.Getenv("COHORT_GCS_BUCKET_NAME"), "bucket for -list")
		prefix   = flag.String("prefix", "cohorts", "object prefix for -list")
		n        = flag.Int("n", 1000, "samples in the synthetic cohort")
		k        = flag.Int("k", 10, "basis dimensions in the synthetic cohort")
		variants = flag.Int("variants", 100, "variants in the synthetic cohort")
		seed     = flag.Int64("seed", 1, "rng seed for -generate")
	)
	flag.Parse()

	log, err := logger.New("development")
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	switch {
	case *generate != "":
		if *out == "" {
			*out = *generate + ".bundle.json.gz"
		}
		if err := generateBundle(*generate, *out, *n, *k, *variants, *seed); err != nil {
			fmt.Printf("generate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (n=%d k=%d variants=%d)\n", *out, *n, *k, *variants)
	case *validate != "":
		if err := validateBundle(*validate); err != nil {
			fmt.Printf("validate: %v\n", err)
			os.Exit(1)
		}
	case *list:
		if err := listBundles(log, *bucket, *prefix); err != nil {
			fmt.Printf("list: %v\n", err)
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// generateBundle builds a cohort whose basis columns are disjoint block
// indicators scaled to unit norm, so the basis is orthonormal by
// construction.
func generateBundle(cohortID, out string, n, k, variantCount int, seed int64) error {
	if n < k || k < 1 {
		return fmt.Errorf("need n >= k >= 1, got n=%d k=%d", n, k)
	}
	rng := rand.New(rand.NewSource(seed))

	block := n / k
	basis := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		lo := j * block
		hi := lo + block
		if j == k-1 {
			hi = n
		}
		v := 1 / math.Sqrt(float64(hi-lo))
		for i := lo; i < hi; i++ {
			basis.Set(i, j, v)
		}
	}

	diagnosis := make([]float64, n)
	age := make([]float64, n)
	for i := 0; i < n; i++ {
		if rng.Float64() < 0.3 {
			diagnosis[i] = 1
		}
		age[i] = 30 + 40*rng.Float64()
	}
	fields := []types.CohortField{
		{Code: "diagnosis_A", Name: "Diagnosis A", Type: types.FieldTypeBool, Values: diagnosis},
		{Code: "age", Name: "Age at recruitment", Type: types.FieldTypeReal, Values: age},
	}

	vars := make([]types.Variant, variantCount)
	for v := range vars {
		loadings := make([]float64, k)
		for j := range loadings {
			loadings[j] = rng.NormFloat64()
		}
		vars[v] = types.Variant{
			ID:             fmt.Sprintf("rs%d", 1000+v),
			Chrom:          fmt.Sprintf("%d", 1+v%22),
			Pos:            int64(10_000 + 137*v),
			Loadings:       loadings,
			DosageVariance: 0.05 + 0.4*rng.Float64(),
		}
	}

	ref := types.NewCohortReference(cohortID, n, k, fields, basis, vars)

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	return cohort.EncodeBundle(f, ref)
}

func validateBundle(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ref, err := cohort.DecodeBundle(f)
	if err != nil {
		return err
	}
	fmt.Printf("cohort %s: n=%d k=%d fields=%d variants=%d\n",
		ref.CohortID, ref.N, ref.K, len(ref.Fields), len(ref.Variants))
	for _, fs := range ref.FieldSummaries() {
		fmt.Printf("  field %-24s %s\n", fs.Code, fs.Type)
	}
	return nil
}

func listBundles(log *logger.Logger, bucket, prefix string) error {
	if bucket == "" {
		return fmt.Errorf("missing bucket (set COHORT_GCS_BUCKET_NAME or -bucket)")
	}
	ctx := context.Background()
	reader, err := cohort.NewGCSBundleReader(ctx, log, bucket)
	if err != nil {
		return err
	}
	store := cohort.NewStore(log, reader, cohort.StoreConfig{Prefix: prefix, Capacity: 1})
	cohorts, err := store.ListCohorts(ctx)
	if err != nil {
		return err
	}
	for _, id := range cohorts {
		fmt.Println(id)
	}
	return nil
}
