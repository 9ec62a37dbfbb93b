// Package superimg builds a complete super partition image from a set of
// logical partition images without copying their content.
//
// The builder is seeded either from the device's super_empty.img, which keeps
// the device's groups and slot layout, or from a bare super partition size:
//
//	b, err := superimg.FromTemplate(filepath.Join(productOut, "super_empty.img"))
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	for name, path := range images {
//	    if err := b.AddPartition(name, path, ""); err != nil {
//	        return err
//	    }
//	}
//
//	img, err := b.Build()
//
// The returned sparse.File references the partition images directly; memory
// use is bounded by one chunk regardless of the size of the super partition.
package superimg
